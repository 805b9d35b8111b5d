package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
)

const (
	defaultForecastLimit = 10
	defaultHistoryLimit  = 50
	maxPageLimit         = 1000
	maxManualBodyBytes   = 1 << 20
)

// monthInput is one month of a manual submission. Pointers distinguish an
// omitted field from an explicit zero.
type monthInput struct {
	RainfallMM   *float64 `json:"rainfall_mm" validate:"required"`
	TmaxC        *float64 `json:"tmax_c" validate:"required"`
	TminC        *float64 `json:"tmin_c" validate:"required"`
	SPEI         *float64 `json:"spei" validate:"required"`
	SPI          *float64 `json:"spi" validate:"required"`
	NDVI         *float64 `json:"ndvi" validate:"required,gte=0,lte=1"`
	SoilMoisture *float64 `json:"soil_moisture" validate:"required,gte=0,lte=100"`
}

func (m monthInput) features() domain.MonthlyFeatures {
	return domain.MonthlyFeatures{
		RainfallMM:   *m.RainfallMM,
		TmaxC:        *m.TmaxC,
		TminC:        *m.TminC,
		SPEI:         *m.SPEI,
		SPI:          *m.SPI,
		NDVI:         *m.NDVI,
		SoilMoisture: *m.SoilMoisture,
	}
}

// manualRequest is the body of POST /predict/manual.
type manualRequest struct {
	Data     []monthInput `json:"data" validate:"required,len=12,dive"`
	Location string       `json:"location" validate:"max=200"`
}

// months converts a validated request into typed months and records keyed
// by the schema's column names.
func (r manualRequest) months(schema *domain.Schema) ([]domain.MonthlyFeatures, []domain.Record) {
	months := make([]domain.MonthlyFeatures, len(r.Data))
	records := make([]domain.Record, len(r.Data))
	for i, m := range r.Data {
		months[i] = m.features()
		records[i] = schema.Record(months[i])
	}
	return months, records
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// requestError is a malformed request, reported as 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// describeValidation turns validator errors into a single readable message
// using JSON field paths, e.g. "data[3].ndvi must be <= 1".
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldPath(fe.Namespace())+" "+ruleText(fe))
	}
	return badRequest("invalid request: %s", strings.Join(msgs, "; "))
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func ruleText(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		if fe.Field() == "data" {
			return fmt.Sprintf("must contain exactly %s months", fe.Param())
		}
		return "must have length " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag()
	}
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, key string, def, upper int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	if upper > 0 && n > upper {
		return 0, badRequest("%s must be <= %d", key, upper)
	}
	return n, nil
}
