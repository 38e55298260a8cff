// Package ops HTTP интерфейс процесса: метрики, проверка живости,
// состояние перевода и управление переводом для разговорного слоя.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/warm_transfer/pkg/config"
	"github.com/arzzra/warm_transfer/pkg/gate"
	"github.com/arzzra/warm_transfer/pkg/transfer"
)

const requestTimeout = 5 * time.Second

// Coordinator операции координатора, доступные по HTTP
type Coordinator interface {
	RequestTransfer(ctx context.Context, req transfer.Request) (transfer.Handle, error)
	CancelTransfer(h transfer.Handle) error
	CustomerHangup()
	NewCall() error
	State() transfer.State
	Session() *transfer.Session
	Gates() *gate.Registry
}

// Server HTTP сервер на echo
type Server struct {
	echo     *echo.Echo
	coord    Coordinator
	cfg      *config.Config
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Options параметры Server
type Options struct {
	Coordinator Coordinator
	// Config источник адресатов и фраз для POST /transfers
	Config *config.Config
	// Gatherer источник метрик; по умолчанию prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// New создаёт сервер и регистрирует маршруты
func New(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		coord:    opts.Coordinator,
		cfg:      opts.Config,
		gatherer: opts.Gatherer,
		logger:   opts.Logger.With(slog.String("component", "ops_http")),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.echo.GET("/transfers/state", s.state)
	s.echo.POST("/transfers", s.requestTransfer)
	s.echo.DELETE("/transfers/:handle", s.cancelTransfer)
	s.echo.POST("/call/hangup", s.customerHangup)
	s.echo.POST("/call/new", s.newCall)
}

// Handler для httptest и встраивания
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start слушает addr до Shutdown
func (s *Server) Start(addr string) error {
	s.logger.Info("ops сервер запущен", slog.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type stateResponse struct {
	State   transfer.State      `json:"state"`
	Session *sessionResponse    `json:"session,omitempty"`
	Gates   map[string][]string `json:"gates"`
}

type sessionResponse struct {
	Handle       transfer.Handle `json:"handle"`
	State        transfer.State  `json:"state"`
	AttemptIndex int             `json:"attempt_index"`
	LegID        string          `json:"leg_id,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
}

func (s *Server) state(c echo.Context) error {
	resp := stateResponse{
		State: s.coord.State(),
		Gates: make(map[string][]string),
	}
	for _, role := range gate.Roles() {
		sinks := []string{}
		for _, sink := range s.coord.Gates().Party(role).OpenSinks() {
			sinks = append(sinks, sink.String())
		}
		resp.Gates[role.String()] = sinks
	}
	if sess := s.coord.Session(); sess != nil {
		resp.Session = &sessionResponse{
			Handle:       sess.ID,
			State:        sess.State,
			AttemptIndex: sess.AttemptIndex,
			LegID:        sess.LegID,
			StartedAt:    sess.StartedAt,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// transferBody тело POST /transfers
type transferBody struct {
	TargetName string `json:"target_name"`
	Summary    string `json:"summary"`
	// WarmTransfer заменяет адресатов и фразы только для этого перевода
	WarmTransfer *config.TransferFile `json:"warm_transfer_config,omitempty"`
}

type transferResponse struct {
	Handle transfer.Handle `json:"handle"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) requestTransfer(c echo.Context) error {
	var body transferBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "некорректное тело запроса"})
	}
	if s.cfg == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "адресаты не настроены"})
	}

	dir := *s.cfg
	dir.ApplyTransfer(body.WarmTransfer)
	req, err := dir.RequestFor(body.TargetName, body.Summary)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	h, err := s.coord.RequestTransfer(ctx, req)
	if err != nil {
		s.logger.Warn("перевод отклонён", slog.String("target", body.TargetName), slog.Any("error", err))
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	s.logger.Info("перевод запрошен", slog.String("target", body.TargetName), slog.String("handle", string(h)))
	return c.JSON(http.StatusAccepted, transferResponse{Handle: h})
}

func (s *Server) cancelTransfer(c echo.Context) error {
	if err := s.coord.CancelTransfer(transfer.Handle(c.Param("handle"))); err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) customerHangup(c echo.Context) error {
	s.coord.CustomerHangup()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) newCall(c echo.Context) error {
	if err := s.coord.NewCall(); err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// statusFor HTTP код для ошибки координатора
func statusFor(err error) int {
	switch {
	case errors.Is(err, transfer.ErrAlreadyTransferring), errors.Is(err, transfer.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, transfer.ErrUnknownHandle):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrBadAudioAsset), errors.Is(err, transfer.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
