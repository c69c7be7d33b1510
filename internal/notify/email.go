package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// Email sends an HTML rendering of a message over SMTP.
type Email struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string

	// sendMail is smtp.SendMail; replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(host string, port int, username, password, from string, to []string) *Email {
	if host == "" || len(to) == 0 {
		return nil
	}
	if port == 0 {
		port = 587
	}
	return &Email{Host: host, Port: port, Username: username, Password: password, From: from, To: to, sendMail: smtp.SendMail}
}

func (e *Email) Send(ctx context.Context, msg Message) error {
	if e == nil || e.Host == "" {
		return errors.New("email disabled")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := RenderHTML(msg)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "[pipewatch] "+msg.Title))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	buf.Write(body)

	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	send := e.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	if err := send(addr, auth, e.From, e.To, buf.Bytes()); err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	return nil
}

var emailTmpl = template.Must(template.New("email").Funcs(template.FuncMap{
	"problems": Problems,
	"color":    headerColor,
	"ts":       func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"fmtHours": func(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) },
	"deref":    func(b *bool) bool { return b != nil && *b },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<style>
  body { font-family: Arial, sans-serif; margin: 20px; }
  .header { background-color: {{color .}}; color: white; padding: 10px; border-radius: 5px; }
  .content { margin: 20px 0; }
  .detail { background-color: #f8f9fa; padding: 10px; border-radius: 5px; }
  .fail { color: #ff4444; }
</style>
</head>
<body>
<div class="header"><h2>{{.Title}}</h2></div>
<div class="content">
{{- with .Health}}
  <p><strong>Overall status:</strong> {{.OverallStatus}}</p>
  <p><strong>Generated:</strong> {{ts .GeneratedAt}}</p>
  {{- with problems .}}
  <div class="detail"><p><strong>Details:</strong></p>
  <ul>{{range .}}<li>{{.}}</li>{{end}}</ul></div>
  {{- end}}
{{- end}}
{{- with .Backup}}
  <p><strong>Run:</strong> {{.RunID}}</p>
  <table>
  {{- range .Artifacts}}
    <tr><td>{{.Category}}</td><td>{{if .Succeeded}}ok{{else}}<span class="fail">failed: {{.Error}}</span>{{end}}</td>
    <td>{{if .RemoteUploaded}}{{if deref .RemoteUploaded}}uploaded{{else}}<span class="fail">relay failed: {{.RemoteError}}</span>{{end}}{{end}}</td></tr>
  {{- end}}
  </table>
{{- end}}
{{- with .Summary}}
  <p><strong>Healthy runs:</strong> {{.HealthyRuns}} / {{.HealthRuns}}</p>
  <p><strong>Failed backups:</strong> {{.FailedBackupRuns}} / {{.BackupRuns}}</p>
  <p><strong>Data freshness:</strong> {{fmtHours .MaxHoursBehind}}h</p>
  {{- if .TopIssues}}
  <h3>Top Issues</h3>
  <ul>{{range .TopIssues}}<li>{{.}}</li>{{end}}</ul>
  {{- end}}
{{- end}}
</div>
<div style="margin-top: 20px; padding-top: 20px; border-top: 1px solid #ddd;">
<p><small>This is an automated message from pipewatch.</small></p>
</div>
</body>
</html>
`))

// RenderHTML renders msg as a standalone HTML document.
func RenderHTML(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, msg); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}
	return buf.Bytes(), nil
}

func headerColor(msg Message) template.CSS {
	switch {
	case msg.Health != nil && msg.Health.OverallStatus == domain.StatusHealthy:
		return "#28a745"
	case msg.Health != nil && msg.Health.OverallStatus == domain.StatusDegraded:
		return "#ffa500"
	case msg.Health != nil:
		return "#ff4444"
	case msg.Backup != nil && !msg.Backup.OverallSucceeded:
		return "#ff4444"
	default:
		return "#007bff"
	}
}
