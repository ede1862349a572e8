package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/cache"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/internal/inventory"
	"github.com/bjo163/sokomarket/internal/notify"
	"github.com/bjo163/sokomarket/internal/orders"
	"github.com/bjo163/sokomarket/internal/organization"
	"github.com/bjo163/sokomarket/internal/payment"
	"github.com/bjo163/sokomarket/internal/paypack"
	"github.com/bjo163/sokomarket/internal/whatsapp"
	"github.com/bjo163/sokomarket/pkg/metrics"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

const workerPoolSize = 16

// Services holds the domain services shared by handlers and background tasks.
type Services struct {
	Plans         *billing.Plans
	Limits        *billing.Limits
	Subscriptions *billing.Subscriptions
	Organizations *organization.Service
	Ledger        *inventory.Ledger
	Catalog       *inventory.Catalog
	Orders        *orders.Service
	Paypack       *paypack.Client
	Payments      *payment.Service
	Notify        *notify.Service
}

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	store     cache.Store
	bus       *events.Bus
	forwarder *events.Forwarder
	forwardOn bool
	pool      *ants.Pool
	services  *Services
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ ServicesProvider  = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Services() *Services {
	return a.services
}

// Bus returns the in-process event bus.
func (a *Application) Bus() *events.Bus {
	return a.bus
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)

	if err := metrics.InitMetrics(cfg.System.Workdir); err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database, cfg.System.Workdir)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	a.initStore()
	a.Bootstrap()
	a.initJob()
}

// Bootstrap wires the services and seeds defaults on an already opened database.
func (a *Application) Bootstrap() {
	a.initServices()
	a.checkDefaults()
}

func (a *Application) initStore() {
	rc := a.appConfig.Redis
	if !rc.Enabled {
		a.store = cache.NewMemory()
		return
	}
	r := cache.NewRedis(rc.Addr, rc.Password, rc.DB)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		zap.L().Error("redis unavailable, using in-memory cache", zap.String("addr", rc.Addr), zap.Error(err))
		_ = r.Close()
		a.store = cache.NewMemory()
		return
	}
	zap.L().Info("redis cache connected", zap.String("addr", rc.Addr))
	a.store = r
}

// initServices builds the event bus, worker pool and every domain service.
func (a *Application) initServices() {
	cfg := a.appConfig
	if a.store == nil {
		a.store = cache.NewMemory()
	}
	a.bus = events.NewBus()

	pool, err := ants.NewPool(workerPoolSize)
	if err != nil {
		zap.S().Errorf("worker pool: %v", err)
	}
	a.pool = pool

	if err := a.bus.SubscribeAll(func(topic string, _ interface{}) {
		metrics.Incr("events_"+topic, 1)
	}); err != nil {
		zap.S().Errorf("subscribe metrics: %v", err)
	}
	if cfg.Kafka.Enabled {
		a.forwarder = events.NewForwarder(cfg.Kafka.Brokers, cfg.Kafka.Topic, 1024)
		if err := a.forwarder.Attach(a.bus); err != nil {
			zap.S().Errorf("attach kafka forwarder: %v", err)
		}
	}

	messages := whatsapp.New(cfg.Billing.WhatsAppCountry)
	s := &Services{}
	s.Plans = billing.NewPlans(a.gormDB)
	s.Limits = billing.NewLimits(a.gormDB)
	s.Subscriptions = billing.NewSubscriptions(a.gormDB, a.bus, cfg.Billing)
	s.Organizations = organization.NewService(a.gormDB, s.Limits, a.bus)
	s.Ledger = inventory.NewLedger(a.gormDB)
	s.Catalog = inventory.NewCatalog(a.gormDB, s.Ledger, s.Limits, s.Organizations, a.bus)
	s.Orders = orders.NewService(a.gormDB, s.Ledger, s.Limits, s.Organizations, messages, a.store, a.bus, orders.Options{
		PublicURL: cfg.System.PublicURL,
		TokenTTL:  time.Duration(cfg.Billing.OrderTokenTTLHours) * time.Hour,
		Currency:  cfg.Billing.Currency,
	})
	s.Paypack = paypack.NewClient(cfg.Paypack, a.store)
	s.Payments = payment.NewService(a.gormDB, s.Paypack, s.Plans, s.Subscriptions, a.bus, cfg.Paypack.Rate(), cfg.Billing.Currency)

	var senders []notify.Sender
	if cfg.Smtp.Enabled {
		senders = append(senders, notify.NewEmailSender(cfg.Smtp))
	}
	s.Notify = notify.NewService(a.gormDB, notify.NewGormDeliveryRepository(a.gormDB), notify.LogPusher{}, messages, a.pool,
		notify.Options{PublicURL: cfg.System.PublicURL, Currency: cfg.Billing.Currency}, senders...)
	if err := s.Notify.Subscribe(a.bus); err != nil {
		zap.S().Errorf("subscribe notifications: %v", err)
	}
	a.services = s
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
		return
	}
	a.checkDefaults()
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// StartBackgroundJobs runs the persisted schedulers, the delivery dispatcher
// and the kafka forwarder until ctx is done.
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	a.StartSchedulerService(ctx)
	a.services.Notify.Start(ctx, 30*time.Second)
	if a.forwarder != nil {
		a.forwarder.Start(ctx)
		a.forwardOn = true
	}
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.services != nil {
		a.services.Notify.Stop()
	}
	if a.bus != nil {
		a.bus.Wait()
	}
	if a.forwardOn {
		a.forwarder.WaitClosed()
	}
	if a.pool != nil {
		a.pool.Release()
	}
	if r, ok := a.store.(*cache.Redis); ok {
		_ = r.Close()
	}

	_ = metrics.Close()
	_ = zap.L().Sync()
}
