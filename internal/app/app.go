package app

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	authfirebase "github.com/phenrril/jeanstore/internal/adapters/auth/firebase"
	authmemory "github.com/phenrril/jeanstore/internal/adapters/auth/memory"
	"github.com/phenrril/jeanstore/internal/adapters/httpserver"
	"github.com/phenrril/jeanstore/internal/adapters/notify"
	"github.com/phenrril/jeanstore/internal/adapters/notify/sendgrid"
	fsrepo "github.com/phenrril/jeanstore/internal/adapters/repo/firestore"
	memrepo "github.com/phenrril/jeanstore/internal/adapters/repo/memory"
	"github.com/phenrril/jeanstore/internal/adapters/repo/postgres"
	"github.com/phenrril/jeanstore/internal/adapters/storage/docimages"
	"github.com/phenrril/jeanstore/internal/adapters/storage/gcs"
	"github.com/phenrril/jeanstore/internal/adapters/storage/localfs"
	"github.com/phenrril/jeanstore/internal/config"
	"github.com/phenrril/jeanstore/internal/domain"
	"github.com/phenrril/jeanstore/internal/usecase"
)

type App struct {
	Config     *config.Config
	Store      domain.RemoteStore
	Documents  *postgres.DocumentStore
	Cache      *usecase.ProductCache
	ProductUC  *usecase.ProductUC
	Session    *usecase.AuthSession
	Cart       *usecase.CartStore
	CheckoutUC *usecase.CheckoutUC
	Navigator  *Navigator

	closers []func() error
}

// NewApp builds the storefront core for cfg. Clients for Google services are
// only created when the configuration asks for them.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	switch cfg.Backend {
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			return nil, errors.Wrapf(err, "firestore client (project=%s)", cfg.ProjectID)
		}
		a.closers = append(a.closers, client.Close)
		a.Store = fsrepo.New(client)
		zlog.Info().Str("project", cfg.ProjectID).Msg("store: firestore")
	case config.BackendPostgres:
		db, err := gorm.Open(pgdriver.Open(cfg.DSN()), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to database")
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		a.Documents = postgres.NewDocumentStore(db)
		a.Store = a.Documents
		zlog.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("store: postgres")
	default:
		a.Store = memrepo.New()
		zlog.Info().Msg("store: memory")
	}

	docImages := docimages.New(a.Store)
	if cfg.Backend == config.BackendFirestore {
		docImages.MaxBytes = docimages.FirestoreMaxBytes
		if cfg.Images == config.ImagesDocument && cfg.MaxImageBytes() > docimages.FirestoreMaxBytes {
			zlog.Warn().Int64("limit", docimages.FirestoreMaxBytes).Msg("images: firestore documents cap uploads below MAX_IMAGE_MB, use IMAGE_BACKEND=gcs for larger files")
		}
	}
	var images domain.ImageStore = docImages
	var legacy []domain.ImageStore
	if cfg.Images == config.ImagesGCS {
		client, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "storage client")
		}
		a.closers = append(a.closers, client.Close)
		images = gcs.NewImageStore(client, cfg.ImageBucket)
		legacy = append(legacy, docImages)
		zlog.Info().Str("bucket", cfg.ImageBucket).Msg("images: gcs")
	}

	a.Cache = usecase.NewProductCache(a.Store, usecase.WithTTL(cfg.CacheTTL))
	a.ProductUC = &usecase.ProductUC{
		Store:         a.Store,
		Cache:         a.Cache,
		Images:        images,
		Legacy:        legacy,
		MaxImageBytes: cfg.MaxImageBytes(),
		Placeholder:   cfg.Placeholder,
	}

	kv := localfs.New(cfg.StatePath)
	notifier := notify.Logger()

	var authOpts []usecase.AuthOption
	if cfg.GoogleOAuthEnabled() {
		authOpts = append(authOpts, usecase.WithGoogleOAuth(&oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  strings.TrimRight(cfg.BaseURL, "/") + "/auth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		}))
	}
	provider, err := newAuthProvider(ctx, cfg, clientOpts)
	if err != nil {
		return nil, err
	}
	a.Session = usecase.NewAuthSession(provider, kv, notifier, authOpts...)

	a.Navigator = &Navigator{}
	a.Cart = usecase.NewCartStore(a.Session, a.Navigator, kv, notifier, usecase.WithLoginRoute(cfg.LoginRoute))

	a.CheckoutUC = &usecase.CheckoutUC{Store: a.Store, Session: a.Session}
	if cfg.SendGridAPIKey != "" && cfg.MailFrom != "" {
		a.CheckoutUC.Notifier = sendgrid.NewOrderMailer(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom)
	}

	ok = true
	return a, nil
}

// newAuthProvider returns the Firebase provider when an API key is configured.
// The Admin SDK is optional: without it restored tokens are checked through
// the Identity Toolkit account lookup only.
func newAuthProvider(ctx context.Context, cfg *config.Config, opts []option.ClientOption) (domain.AuthProvider, error) {
	if cfg.FirebaseAPIKey == "" {
		zlog.Info().Msg("auth: in-memory provider")
		return authmemory.New(), nil
	}
	var admin authfirebase.Admin
	if cfg.ProjectID != "" {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
		if err != nil {
			zlog.Warn().Err(err).Msg("auth: firebase app init failed")
		} else if client, err := fbApp.Auth(ctx); err != nil {
			zlog.Warn().Err(err).Msg("auth: firebase admin client init failed")
		} else {
			admin = client
		}
	}
	zlog.Info().Bool("admin", admin != nil).Msg("auth: firebase provider")
	p, err := authfirebase.NewProvider(ctx, cfg.FirebaseAPIKey, admin)
	if err != nil {
		return nil, errors.Wrap(err, "firebase auth provider")
	}
	return p, nil
}

// Start loads the saved cart and follows the auth provider's session.
func (a *App) Start(ctx context.Context) error {
	a.Session.Start(ctx)
	if err := a.Cart.Load(); err != nil {
		return errors.Wrap(err, "load cart")
	}
	return nil
}

// HTTPHandler serves the catalog API and the Google sign-in callback.
func (a *App) HTTPHandler() http.Handler {
	return httpserver.New(a.ProductUC, a.Session)
}

func (a *App) Migrate() error {
	if a.Documents == nil {
		zlog.Info().Str("backend", a.Config.Backend).Msg("nothing to migrate")
		return nil
	}
	return a.Documents.Migrate()
}

func (a *App) Close() error {
	if a.Session != nil {
		a.Session.Close()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// Navigator keeps the current path of a non-browser client and records the
// last redirect the cart asked for.
type Navigator struct {
	mu       sync.Mutex
	path     string
	redirect string
}

func (n *Navigator) SetPath(p string) {
	n.mu.Lock()
	n.path = p
	n.mu.Unlock()
}

func (n *Navigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.path == "" {
		return "/"
	}
	return n.path
}

func (n *Navigator) Redirect(to string) {
	n.mu.Lock()
	n.redirect = to
	n.mu.Unlock()
	zlog.Info().Str("to", to).Msg("redirect")
}

// LastRedirect returns the last redirect target and the path it returns to.
func (n *Navigator) LastRedirect() (target, returnTo string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	target = n.redirect
	if u, err := url.Parse(target); err == nil {
		returnTo = u.Query().Get("redirect")
	}
	return target, returnTo
}
