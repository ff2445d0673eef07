package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// BaseService provides the HTTP server lifecycle shared by every component
// in the system (Gateway, Orchestrator, Analyzer, Evaluator, Generator).
// It owns routing, middleware, health reporting and OpenTelemetry wiring so
// that each component only has to register its own handlers.
type BaseService struct {
	Name   string
	ID     string
	Config *Config
	Logger Logger

	mu                 sync.RWMutex
	mux                *http.ServeMux
	server             *http.Server
	registeredPatterns map[string]bool
	serverStarted      bool
	tracerProvider     *sdktrace.TracerProvider
}

// NewBaseService creates a service wrapper ready to have handlers registered
// on it via HandleFunc before Start is called.
func NewBaseService(name string, cfg *Config, logger Logger) *BaseService {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &BaseService{
		Name:               name,
		ID:                 uuid.New().String(),
		Config:             cfg,
		Logger:             logger,
		mux:                http.NewServeMux(),
		registeredPatterns: make(map[string]bool),
	}
}

// HandleFunc registers an HTTP handler for a pattern. Must be called before
// Start.
func (b *BaseService) HandleFunc(pattern string, handler http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mux.HandleFunc(pattern, handler)
	b.registeredPatterns[pattern] = true
}

// Handle registers an http.Handler for a pattern. Must be called before
// Start.
func (b *BaseService) Handle(pattern string, handler http.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mux.Handle(pattern, handler)
	b.registeredPatterns[pattern] = true
}

// Start configures the middleware chain, health endpoint and telemetry, then
// blocks serving HTTP until the server is shut down or fails.
func (b *BaseService) Start(ctx context.Context, port int) error {
	b.mu.Lock()

	if b.serverStarted {
		b.mu.Unlock()
		return fmt.Errorf("server already started")
	}

	if port < 0 && b.Config != nil {
		port = b.Config.Port
	}
	if port < 0 || port > 65535 {
		b.mu.Unlock()
		return fmt.Errorf("invalid port %d: must be between 0-65535", port)
	}

	addr := fmt.Sprintf("%s:%d", b.Config.Address, port)
	if b.Config.Address == "" {
		addr = fmt.Sprintf(":%d", port)
	}

	if b.Config.HTTP.EnableHealthCheck {
		healthPath := b.Config.HTTP.HealthCheckPath
		if healthPath == "" {
			healthPath = "/health"
		}
		if !b.registeredPatterns[healthPath] {
			b.mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"status":  "healthy",
					"service": b.Name,
					"id":      b.ID,
				})
			})
			b.registeredPatterns[healthPath] = true
		}
	}

	tp, err := b.setupTelemetry()
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("telemetry setup: %w", err)
	}
	b.tracerProvider = tp

	// Middleware order (outermost to innermost): CORS -> user middleware ->
	// logging -> recovery -> handler. Recovery sits innermost so it catches
	// panics from the actual handler; logging wraps it to record the final
	// status code including ones set by the recovery middleware.
	var handler http.Handler = b.mux
	handler = RecoveryMiddleware(b.Logger)(handler)
	handler = LoggingMiddleware(b.Logger, b.Config.Development.Enabled)(handler)

	for i := len(b.Config.HTTP.Middleware) - 1; i >= 0; i-- {
		handler = b.Config.HTTP.Middleware[i](handler)
	}

	if b.Config.Telemetry.Enabled {
		handler = otelhttp.NewHandler(handler, b.Name)
	}

	if b.Config.HTTP.CORS.Enabled {
		handler = CORSMiddleware(&b.Config.HTTP.CORS)(handler)
	}

	b.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       b.Config.HTTP.ReadTimeout,
		ReadHeaderTimeout: b.Config.HTTP.ReadHeaderTimeout,
		WriteTimeout:      b.Config.HTTP.WriteTimeout,
		IdleTimeout:       b.Config.HTTP.IdleTimeout,
		MaxHeaderBytes:    b.Config.HTTP.MaxHeaderBytes,
	}

	b.serverStarted = true
	b.mu.Unlock()

	b.Logger.Info("starting http server",
		"service", b.Name,
		"address", addr,
		"cors", b.Config.HTTP.CORS.Enabled,
		"telemetry", b.Config.Telemetry.Enabled,
	)

	if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		b.Logger.Error("http server failed", "service", b.Name, "error", err.Error())
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests and shuts down telemetry
// exporters within the configured shutdown timeout.
func (b *BaseService) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server == nil {
		return nil
	}

	timeout := b.Config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := b.server.Shutdown(shutdownCtx)
	if b.tracerProvider != nil {
		_ = b.tracerProvider.Shutdown(shutdownCtx)
	}
	b.serverStarted = false
	return err
}

// setupTelemetry configures an OpenTelemetry tracer provider. When
// telemetry is disabled the provider samples nothing and has no exporter.
// When it is enabled, spans go to the configured OTLP endpoint over gRPC;
// with no endpoint they are pretty-printed to stdout in development mode and
// not exported at all otherwise.
func (b *BaseService) setupTelemetry() (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(b.serviceName()),
			semconv.ServiceInstanceIDKey.String(b.ID),
			attribute.String("selfrefine.component", b.Name),
		),
	)
	if err != nil {
		return nil, err
	}

	if !b.Config.Telemetry.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithSampler(sdktrace.NeverSample()))
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	var opts []sdktrace.TracerProviderOption
	opts = append(opts, sdktrace.WithResource(res))

	endpoint := b.Config.Telemetry.Endpoint
	if endpoint != "" {
		exporter, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else if b.Config.Development.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp, nil
}

func (b *BaseService) serviceName() string {
	if b.Config != nil && b.Config.Telemetry.ServiceName != "" {
		return b.Config.Telemetry.ServiceName
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return b.Name + "@" + host
	}
	return b.Name
}
