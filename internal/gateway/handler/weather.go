package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skylink-aero/skylink/internal/audit"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/pipeline"
	"github.com/skylink-aero/skylink/internal/rbac"
)

var opWeatherRead = pipeline.Operation{
	Name:        "weather.read",
	Resource:    "weather",
	Permissions: []rbac.Permission{rbac.PermWeatherRead},
}

// WeatherReport is the gateway's view of current conditions at a position.
type WeatherReport struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Conditions  string  `json:"conditions"`
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"wind_speed"`
	WindHeading float64 `json:"wind_heading"`
	Visibility  float64 `json:"visibility"`
}

// WeatherProvider supplies weather reports. Implemented by the upstream
// weather service client; tests and dev deployments use StaticWeather.
type WeatherProvider interface {
	Current(ctx context.Context, lat, lon float64) (*WeatherReport, error)
}

// StaticWeather returns a fixed fair-weather report for any position.
type StaticWeather struct{}

// Current implements WeatherProvider.
func (StaticWeather) Current(_ context.Context, lat, lon float64) (*WeatherReport, error) {
	return &WeatherReport{
		Lat:         lat,
		Lon:         lon,
		Conditions:  "clear",
		Temperature: 18.5,
		WindSpeed:   12.0,
		WindHeading: 270.0,
		Visibility:  10.0,
	}, nil
}

// WeatherHandler exposes the weather lookup endpoint.
type WeatherHandler struct {
	pipe     *pipeline.Pipeline
	provider WeatherProvider
	audit    *audit.Logger
	logger   *zap.Logger
}

// NewWeatherHandler creates a WeatherHandler.
func NewWeatherHandler(pipe *pipeline.Pipeline, provider WeatherProvider, auditLog *audit.Logger, logger *zap.Logger) *WeatherHandler {
	return &WeatherHandler{pipe: pipe, provider: provider, audit: auditLog, logger: logger}
}

// Register mounts the weather routes on the given router group.
func (h *WeatherHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/weather/current", h.Current)
}

// Current handles GET /weather/current?lat=..&lon=..
func (h *WeatherHandler) Current(c *gin.Context) {
	lat, err := parseCoord(c.Query("lat"), -90, 90)
	if err != nil {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "lat must be between -90 and 90")
		return
	}
	lon, err := parseCoord(c.Query("lon"), -180, 180)
	if err != nil {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "lon must be between -180 and 180")
		return
	}

	d := h.pipe.Admit(c.Request.Context(), &pipeline.Request{
		TransportIdentity: identity.ClientCNFromCtx(c),
		RawToken:          bearerToken(c),
		Operation:         opWeatherRead,
		TraceID:           TraceIDFromCtx(c),
		ClientIP:          c.ClientIP(),
	})
	if !d.Code.Success() {
		respondDecision(c, d)
		return
	}

	report, err := h.provider.Current(c.Request.Context(), lat, lon)
	if err != nil {
		h.logger.Error("weather provider", zap.Error(err))
		respondError(c, http.StatusBadGateway, "UPSTREAM_ERROR", "weather service unavailable")
		return
	}

	h.audit.Record(c.Request.Context(), audit.Event{
		Type:     audit.EventWeatherAccessed,
		Outcome:  audit.OutcomeSuccess,
		Actor:    d.Identity,
		Resource: "weather",
		TraceID:  TraceIDFromCtx(c),
	})
	c.JSON(http.StatusOK, report)
}

func parseCoord(raw string, min, max float64) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, strconv.ErrRange
	}
	return v, nil
}
