package collab

import (
	"context"
	"time"

	"github.com/hrygo/valet/ports"
)

// StaticWeather answers every lookup with a fixed report. It stands in
// until a real provider adapter is configured.
type StaticWeather struct {
	Summary     string
	TempCelsius float64
	Clock       ports.Clock
}

func (w *StaticWeather) report(location string, date time.Time) *ports.WeatherReport {
	summary := w.Summary
	if summary == "" {
		summary = "heiter"
	}
	return &ports.WeatherReport{
		Location:    location,
		Summary:     summary,
		TempCelsius: w.TempCelsius,
		Date:        date,
	}
}

func (w *StaticWeather) now() time.Time {
	if w.Clock != nil {
		return w.Clock.Now()
	}
	return time.Now()
}

func (w *StaticWeather) Current(_ context.Context, location string) (*ports.WeatherReport, error) {
	return w.report(location, w.now()), nil
}

func (w *StaticWeather) Forecast(_ context.Context, location string, days int) ([]ports.WeatherReport, error) {
	now := w.now()
	out := make([]ports.WeatherReport, days)
	for i := range out {
		out[i] = *w.report(location, now.AddDate(0, 0, i))
	}
	return out, nil
}
