package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/ironsheep/babelia-scout/internal/recorder"
)

// SMTPConfig configures email alerts.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From string
	To   string
}

// Enabled reports whether enough is configured to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && c.To != ""
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTP emails an HTML report with the image attached.
type SMTP struct {
	cfg  SMTPConfig
	send SendFunc
	now  func() time.Time
}

// NewSMTP validates cfg. send may be nil to use smtp.SendMail, which
// upgrades to STARTTLS when the server offers it.
func NewSMTP(cfg SMTPConfig, send SendFunc) (*SMTP, error) {
	if !cfg.Enabled() {
		return nil, errors.New("notify: smtp host, credentials and recipient are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if send == nil {
		send = smtp.SendMail
	}
	return &SMTP{cfg: cfg, send: send, now: time.Now}, nil
}

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *SMTP) auth() smtp.Auth {
	return smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
}

// Notify implements Notifier.
func (s *SMTP) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.compose(a)
	if err != nil {
		return err
	}
	if err := s.send(s.addr(), s.auth(), s.cfg.From, []string{s.cfg.To}, msg); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}
	return nil
}

// SendTest sends a short plain-text message to check the configuration.
func (s *SMTP) SendTest(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var b bytes.Buffer
	s.writeHeaders(&b, "Test Email - Babelia Scout")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString("This is a test email from Babelia Scout.\r\n")
	if err := s.send(s.addr(), s.auth(), s.cfg.From, []string{s.cfg.To}, b.Bytes()); err != nil {
		return fmt.Errorf("notify: send test mail: %w", err)
	}
	return nil
}

func (s *SMTP) writeHeaders(b *bytes.Buffer, subject string) {
	fmt.Fprintf(b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(b, "To: %s\r\n", s.cfg.To)
	fmt.Fprintf(b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
}

// compose builds a multipart/mixed message: the HTML report, then the
// image as an attachment.
func (s *SMTP) compose(a Alert) ([]byte, error) {
	var body bytes.Buffer
	if err := reportTemplate.Execute(&body, newReport(a, s.now())); err != nil {
		return nil, fmt.Errorf("notify: render report: %w", err)
	}

	var b bytes.Buffer
	s.writeHeaders(&b, fmt.Sprintf("Babelia Discovery Alert - Score: %.3f", a.Discovery.FinalScore))

	mw := multipart.NewWriter(&b)
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "base64")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	writeBase64(part, body.Bytes())

	if len(a.Discovery.ImageBytes) > 0 {
		name := recorder.ObjectName(&a.Discovery)
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "image/"+a.Discovery.Format)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		writeBase64(part, a.Discovery.ImageBytes)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// writeBase64 writes data base64 encoded in 76 character lines.
func writeBase64(w io.Writer, data []byte) {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		w.Write([]byte(enc[:76] + "\r\n"))
		enc = enc[76:]
	}
	w.Write([]byte(enc + "\r\n"))
}

type report struct {
	Score     float64
	TopPrompt string
	Matches   []Match
	Hex       string
	Wall      string
	Shelf     int
	Volume    int
	Page      string
	URL       string
	Sampled   int64
	Found     int64
	Rate      float64
	Time      string
}

func newReport(a Alert, now time.Time) report {
	d := a.Discovery
	return report{
		Score:     d.FinalScore,
		TopPrompt: d.TopPrompt,
		Matches:   a.TopMatches(5),
		Hex:       d.Coord.Hex,
		Wall:      d.Coord.Wall.String(),
		Shelf:     d.Coord.Shelf,
		Volume:    d.Coord.Volume,
		Page:      fmt.Sprintf("%03d", d.Coord.Page),
		URL:       d.Coord.URL(a.BaseURL),
		Sampled:   a.Stats.Sampled,
		Found:     a.Stats.Discoveries,
		Rate:      a.Stats.DiscoveryRate(),
		Time:      now.UTC().Format("2006-01-02 15:04:05 UTC"),
	}
}

var reportTemplate = template.Must(template.New("report").Parse(`<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #667eea; padding: 20px; border-radius: 10px; color: white; text-align: center;">
    <h1 style="margin: 0;">Significant Image Discovered</h1>
    <p style="margin: 10px 0 0 0; font-size: 18px;">Babelia Scout</p>
  </div>
  <div style="padding: 20px; background-color: #f5f5f5; margin-top: 20px; border-radius: 10px;">
    <h2 style="color: #667eea;">Analysis Results</h2>
    <table style="width: 100%;">
      <tr><td><strong>Significance Score:</strong></td><td style="text-align: right;">{{printf "%.3f" .Score}}</td></tr>
      <tr><td><strong>Primary Match:</strong></td><td style="text-align: right;">{{.TopPrompt}}</td></tr>
    </table>
    <h3 style="color: #667eea;">Top Semantic Matches:</h3>
    <ol>{{range .Matches}}<li><strong>{{.Prompt}}</strong>: {{printf "%.3f" .Similarity}}</li>{{end}}</ol>
    <h3 style="color: #667eea;">Babelia Coordinates:</h3>
    <div style="background-color: #2d3748; color: #68d391; padding: 15px; font-family: monospace;">
      <strong>Hex:</strong> {{.Hex}}<br>
      <strong>Wall:</strong> {{.Wall}} | <strong>Shelf:</strong> {{.Shelf}} | <strong>Volume:</strong> {{.Volume}} | <strong>Page:</strong> {{.Page}}<br>
      <a href="{{.URL}}" style="color: #68d391;">{{.URL}}</a>
    </div>
    <h3 style="color: #667eea;">Search Statistics:</h3>
    <table style="width: 100%;">
      <tr><td><strong>Images Analyzed:</strong></td><td style="text-align: right;">{{.Sampled}}</td></tr>
      <tr><td><strong>Total Discoveries:</strong></td><td style="text-align: right;">{{.Found}}</td></tr>
      <tr><td><strong>Discovery Rate:</strong></td><td style="text-align: right;">{{printf "%.4f" .Rate}}%</td></tr>
    </table>
  </div>
  <div style="text-align: center; margin-top: 20px; color: #718096; font-size: 12px;">
    <p>Generated by Babelia Scout at {{.Time}}</p>
  </div>
</body>
</html>
`))
