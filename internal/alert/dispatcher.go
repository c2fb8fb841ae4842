// Package alert contains the threshold evaluator and the alert dispatcher.
package alert

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"greenservers-backend/internal/mailer"
	"greenservers-backend/internal/metric"
)

const alertSubject = "Monitoring Alert from Green Servers"

// Alert is the data rendered into one combined alert email.
type Alert struct {
	Hostname string
	CPU      float64
	Memory   float64
	Disk     float64
}

var alertTemplate = template.Must(template.New("alert").Parse(`<h1>Monitoring Alert from Green Servers</h1>
<p>The following metrics have exceeded your defined thresholds:</p>
<ul>
    <li><strong>Hostname:</strong> {{.Hostname}}</li>
    <li><strong>CPU Usage:</strong> {{.CPU}}%</li>
    <li><strong>Memory Usage:</strong> {{.Memory}}%</li>
    <li><strong>Disk Usage:</strong> {{.Disk}}%</li>
</ul>
<p>Please take the necessary actions to address these issues.</p>`))

// Sender dispatches one alert to a recipient.
type Sender interface {
	Send(ctx context.Context, to string, alert Alert)
}

// Dispatcher renders alert emails and hands them to the mail transport.
// It is best-effort: transport failures are logged and swallowed so alerting
// can never destabilize the ingestion path.
type Dispatcher struct {
	Mailer  mailer.Sender
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

func (d *Dispatcher) Send(ctx context.Context, to string, alert Alert) {
	html, err := renderAlert(alert)
	if err != nil {
		d.Logger.Error("failed to render alert email",
			slog.String("hostname", alert.Hostname),
			slog.String("error", err.Error()))
		d.Metrics.AlertsFailed.Inc()
		return
	}
	if err := d.Mailer.Send(ctx, to, alertSubject, html); err != nil {
		d.Logger.Error("failed to send alert email",
			slog.String("to", to),
			slog.String("hostname", alert.Hostname),
			slog.String("error", err.Error()))
		d.Metrics.AlertsFailed.Inc()
		return
	}
	d.Logger.Info("alert email sent",
		slog.String("to", to),
		slog.String("hostname", alert.Hostname))
	d.Metrics.AlertsSent.Inc()
}

func renderAlert(alert Alert) (string, error) {
	var b strings.Builder
	if err := alertTemplate.Execute(&b, alert); err != nil {
		return "", fmt.Errorf("render alert: %w", err)
	}
	return b.String(), nil
}
