package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/phenrril/jeanstore/internal/adapters/export/xlsx"
	"github.com/phenrril/jeanstore/internal/app"
	"github.com/phenrril/jeanstore/internal/domain"
	"github.com/phenrril/jeanstore/internal/usecase"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create the documents table (postgres backend)",
		Action: withApp(func(c *cli.Context, a *app.App) error {
			return a.Migrate()
		}),
	}
}

func seedCmd() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "insert the sample catalog into an empty store",
		Action: withApp(func(c *cli.Context, a *app.App) error {
			n, err := a.Seed(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d products added\n", n)
			return nil
		}),
	}
}

func productsCmd() *cli.Command {
	return &cli.Command{
		Name:  "products",
		Usage: "list products",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Usage: "only this category"},
			&cli.StringFlag{Name: "search", Aliases: []string{"q"}, Usage: "match name, category or tags"},
			&cli.BoolFlag{Name: "featured"},
			&cli.BoolFlag{Name: "new"},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			var (
				ps  []domain.Product
				err error
			)
			switch {
			case c.String("category") != "":
				ps, err = a.ProductUC.ByCategory(c.Context, c.String("category"))
			case c.String("search") != "":
				ps, err = a.ProductUC.Search(c.Context, c.String("search"))
			case c.Bool("featured"):
				ps, err = a.ProductUC.Featured(c.Context, 0)
			case c.Bool("new"):
				ps, err = a.ProductUC.NewArrivals(c.Context, 0)
			default:
				ps, err = a.ProductUC.List(c.Context)
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK\tSIZES")
			for _, p := range ps {
				fmt.Fprintf(w, "%s\t%s\t%s/%s\t%.2f\t%d\t%s\n", p.ID, p.Name, p.Category, p.Subcategory, p.Price, p.Stock, strings.Join(p.Sizes, ","))
			}
			return w.Flush()
		}),
	}
}

func categoriesCmd() *cli.Command {
	return &cli.Command{
		Name:  "categories",
		Usage: "list category aggregates",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "rebuild", Usage: "recount aggregates from the products collection first"},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			var (
				cats []domain.Category
				err  error
			)
			if c.Bool("rebuild") {
				cats, err = a.ProductUC.RebuildCategories(c.Context)
			} else {
				cats, err = a.ProductUC.Categories(c.Context)
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tCOUNT")
			for _, cat := range cats {
				fmt.Fprintf(w, "%s\t%d\n", cat.Name, cat.Count)
			}
			return w.Flush()
		}),
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write the catalog to an XLSX workbook",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "catalog.xlsx"},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			ps, err := a.ProductUC.List(c.Context)
			if err != nil {
				return err
			}
			cats, err := a.ProductUC.Categories(c.Context)
			if err != nil {
				return err
			}
			f, err := os.Create(c.String("out"))
			if err != nil {
				return errors.Wrap(err, "create export file")
			}
			defer f.Close()
			if err := xlsx.WriteCatalog(f, ps, cats); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d products written to %s\n", len(ps), c.String("out"))
			return nil
		}),
	}
}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "add the products of an XLSX workbook",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			f, err := os.Open(c.String("file"))
			if err != nil {
				return errors.Wrap(err, "open workbook")
			}
			defer f.Close()
			rows, bad, err := xlsx.ReadCatalog(f)
			if err != nil {
				return err
			}
			for _, b := range bad {
				zlog.Warn().Int("row", b.Row).Err(b.Err).Msg("import: row skipped")
			}
			added := 0
			for _, p := range rows {
				if _, err := a.ProductUC.Add(c.Context, p); err != nil {
					zlog.Warn().Err(err).Str("name", p.Name).Msg("import: product rejected")
					continue
				}
				added++
			}
			fmt.Fprintf(c.App.Writer, "%d added, %d rejected, %d unreadable rows\n", added, len(rows)-added, len(bad))
			return nil
		}),
	}
}

func imageCmd() *cli.Command {
	return &cli.Command{
		Name:  "image",
		Usage: "upload an image and print its reference",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true},
			&cli.StringFlag{Name: "content-type"},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			data, err := os.ReadFile(c.String("file"))
			if err != nil {
				return errors.Wrap(err, "read image")
			}
			ref, err := a.ProductUC.UploadImage(c.Context, usecase.ImageUpload{
				Filename:    filepath.Base(c.String("file")),
				ContentType: c.String("content-type"),
				Data:        data,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, ref)
			return nil
		}),
	}
}

func registerCmd() *cli.Command {
	return &cli.Command{
		Name: "register",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"JEANSTORE_PASSWORD"}},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			res, err := a.Session.Register(c.Context, c.String("name"), c.String("email"), c.String("password"))
			if err != nil {
				return errors.New(res.Message)
			}
			fmt.Fprintln(c.App.Writer, res.Message)
			return nil
		}),
	}
}

func loginCmd() *cli.Command {
	return &cli.Command{
		Name: "login",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"JEANSTORE_PASSWORD"}},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			res, err := a.Session.Login(c.Context, c.String("email"), c.String("password"))
			if err != nil {
				return errors.New(res.Message)
			}
			fmt.Fprintln(c.App.Writer, res.Message)
			return nil
		}),
	}
}

func logoutCmd() *cli.Command {
	return &cli.Command{
		Name: "logout",
		Action: withApp(func(c *cli.Context, a *app.App) error {
			return a.Session.Logout(c.Context)
		}),
	}
}

// removeVariant resolves a missing color the way AddToCart does, to the
// product's first color, and reports when no line matched.
func removeVariant(cart *usecase.CartStore, productID, size, colorCode string) error {
	if colorCode == "" {
		for _, it := range cart.Items() {
			if it.Product.ID == productID {
				if col := it.Product.FirstColor(); col != nil {
					colorCode = col.Code
				}
				break
			}
		}
	}
	if !cart.RemoveVariant(productID, size, colorCode) {
		return errors.Wrapf(domain.ErrNotFound, "cart has no %s line in size %q color %q", productID, size, colorCode)
	}
	return nil
}

func cartCmd() *cli.Command {
	return &cli.Command{
		Name:  "cart",
		Usage: "show and change the saved cart",
		Action: withApp(func(c *cli.Context, a *app.App) error {
			return printCart(c, a)
		}),
		Subcommands: []*cli.Command{
			{
				Name: "add",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "product", Required: true},
					&cli.IntFlag{Name: "qty", Value: 1},
					&cli.StringFlag{Name: "size"},
					&cli.StringFlag{Name: "color", Usage: "color code, e.g. #111827"},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					p, err := a.ProductUC.Get(c.Context, c.String("product"))
					if err != nil {
						return err
					}
					var color *domain.Color
					if code := c.String("color"); code != "" {
						for _, col := range p.Colors {
							if strings.EqualFold(col.Code, code) {
								col := col
								color = &col
							}
						}
						if color == nil {
							return domain.Invalid("color", "is not offered for this product")
						}
					}
					a.Navigator.SetPath("/products/" + p.ID)
					if !a.Cart.AddToCart(*p, c.Int("qty"), c.String("size"), color) {
						target, _ := a.Navigator.LastRedirect()
						return errors.Errorf("sign in first (%s)", target)
					}
					return printCart(c, a)
				}),
			},
			{
				Name: "remove",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "product", Required: true},
					&cli.StringFlag{Name: "size", Usage: "remove only this size"},
					&cli.StringFlag{Name: "color", Usage: "with --size, remove only this color code"},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					if c.IsSet("size") {
						if err := removeVariant(a.Cart, c.String("product"), c.String("size"), c.String("color")); err != nil {
							return err
						}
					} else {
						a.Cart.RemoveFromCart(c.String("product"))
					}
					return printCart(c, a)
				}),
			},
			{
				Name: "qty",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "product", Required: true},
					&cli.IntFlag{Name: "qty", Required: true},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					a.Cart.UpdateCartItemQuantity(c.String("product"), c.Int("qty"))
					return printCart(c, a)
				}),
			},
			{
				Name: "clear",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					a.Cart.ClearCart()
					return printCart(c, a)
				}),
			},
		},
	}
}

func printCart(c *cli.Context, a *app.App) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tNAME\tSIZE\tCOLOR\tQTY\tPRICE")
	for _, it := range a.Cart.Items() {
		color := ""
		if it.Color != nil {
			color = it.Color.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\n", it.Product.ID, it.Product.Name, it.Size, color, it.Quantity, it.Product.Price)
	}
	fmt.Fprintf(w, "\t\t\t\t%d\t%.2f\n", a.Cart.CartCount(), a.Cart.CartTotal())
	return w.Flush()
}

func checkoutCmd() *cli.Command {
	return &cli.Command{
		Name:  "checkout",
		Usage: "place an order for the saved cart",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "phone", Required: true},
			&cli.StringFlag{Name: "address", Required: true},
			&cli.StringFlag{Name: "city", Required: true},
			&cli.StringFlag{Name: "state"},
			&cli.StringFlag{Name: "postal-code", Required: true},
			&cli.StringFlag{Name: "country", Required: true},
			&cli.StringFlag{Name: "notes"},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			u := a.Session.CurrentUser()
			if u == nil {
				return domain.ErrAuthRequired
			}
			order, err := a.CheckoutUC.ProcessCheckout(c.Context, u.ID, a.Cart.Items(), domain.Shipping{
				FullName:   c.String("name"),
				Email:      c.String("email"),
				Phone:      c.String("phone"),
				Address:    c.String("address"),
				City:       c.String("city"),
				State:      c.String("state"),
				PostalCode: c.String("postal-code"),
				Country:    c.String("country"),
				Notes:      c.String("notes"),
			}, a.Cart.CartTotal())
			if err != nil {
				return errors.New(domain.FailureReason(err))
			}
			a.Cart.ClearCart()
			fmt.Fprintf(c.App.Writer, "order %s placed, total %.2f\n", order.ID, order.TotalAmount)
			return nil
		}),
	}
}

func ordersCmd() *cli.Command {
	return &cli.Command{
		Name:  "orders",
		Usage: "list the signed-in user's orders",
		Action: withApp(func(c *cli.Context, a *app.App) error {
			orders, err := a.CheckoutUC.Orders(c.Context, "")
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tCREATED\tSTATUS\tITEMS\tTOTAL")
			for _, o := range orders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\n", o.ID, o.CreatedAt.Format("2006-01-02 15:04"), o.Status, len(o.Items), o.TotalAmount)
			}
			return w.Flush()
		}),
	}
}

func resetPasswordCmd() *cli.Command {
	return &cli.Command{
		Name:  "reset-password",
		Flags: []cli.Flag{&cli.StringFlag{Name: "email", Required: true}},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			return a.Session.ResetPassword(c.Context, c.String("email"))
		}),
	}
}

func googleCmd() *cli.Command {
	return &cli.Command{
		Name:  "google",
		Usage: "print the Google sign-in URL, or finish it with --code",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Usage: "authorization code from the callback"},
			&cli.StringFlag{Name: "state", Value: "cli"},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			if c.String("code") == "" {
				u := a.Session.GoogleAuthURL(c.String("state"))
				if u == "" {
					return errors.New("google sign-in is not configured")
				}
				fmt.Fprintln(c.App.Writer, u)
				return nil
			}
			res, err := a.Session.LoginWithGoogle(c.Context, c.String("code"))
			if err != nil {
				return errors.New(res.Message)
			}
			fmt.Fprintln(c.App.Writer, res.Message)
			return nil
		}),
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the catalog API and the Google sign-in callback",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (default HTTP_ADDR)"},
		},
		Action: withApp(func(c *cli.Context, a *app.App) error {
			addr := c.String("addr")
			if addr == "" {
				addr = a.Config.HTTPAddr
			}
			server := &http.Server{Addr: addr, Handler: a.HTTPHandler(), ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				zlog.Info().Str("addr", addr).Msg("listening")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return errors.Wrap(err, "serve")
			case <-c.Context.Done():
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		}),
	}
}
