package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net/textproto"

	gomail "github.com/wneessen/go-mail"

	"github.com/goliatone/go-apps/core"
)

// client builds a go-mail client for the relay. Port, TLS mode and
// credentials come from the stored settings.
func (a *App) client(data AppData) (*gomail.Client, error) {
	helloName := a.settings.HelloName
	if helloName == "" {
		helloName = "localhost"
	}
	opts := []gomail.Option{
		gomail.WithTimeout(a.props.VendorTimeout()),
		gomail.WithTLSConfig(a.tlsConfig(data.Host)),
		gomail.WithHELO(helloName),
	}
	switch data.Security {
	case SecurityTLS:
		opts = append(opts, gomail.WithSSL())
	case SecurityStartTLS:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}
	if data.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(data.Username),
			gomail.WithPassword(data.Password),
		)
	}
	opts = append(opts, gomail.WithPort(data.Port))

	client, err := gomail.NewClient(data.Host, opts...)
	if err != nil {
		return nil, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, map[string]any{"field": "host"}, err)
	}
	return client, nil
}

func (a *App) tlsConfig(host string) *tls.Config {
	if a.settings.TLSConfig != nil {
		cfg := a.settings.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// verify connects and authenticates without sending anything.
func (a *App) verify(ctx context.Context, data AppData) error {
	client, err := a.client(data)
	if err != nil {
		return err
	}
	if err := client.DialWithContext(ctx); err != nil {
		return classify(err)
	}
	return client.Close()
}

func (a *App) deliver(ctx context.Context, data AppData, msg *gomail.Msg) error {
	client, err := a.client(data)
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps SMTP reply codes. 4xx replies are transient, 530 and 535
// are authentication failures and other 5xx replies are configuration
// problems. Errors without a reply code are network failures.
func classify(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		switch {
		case reply.Code == 535 || reply.Code == 530:
			return core.AuthError(keyLoginFailed, err)
		case reply.Code >= 400 && reply.Code < 500:
			return core.TransientError(keySendFailed, err)
		default:
			return core.NewAppError(core.ErrorKindConfig, keySendFailed, map[string]any{"code": reply.Code}, err)
		}
	}
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() {
		return core.NewAppError(core.ErrorKindConfig, keySendFailed, map[string]any{"reason": sendErr.Reason.String()}, err)
	}
	return core.TransientError(keySendFailed, err)
}
