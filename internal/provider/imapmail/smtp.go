package imapmail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// sendSMTP submits a composed message to the account's SMTP endpoint
// with PLAIN auth. The connection is dialed under the context and
// inherits its deadline, so the caller's budget bounds the whole
// submission.
func sendSMTP(
	ctx context.Context,
	cipher *crypto.Cipher,
	acct *model.MailAccount,
	req provider.SendRequest,
	raw []byte,
) error {
	password, err := cipher.DecryptOrLegacy(acct.PasswordEnc)
	if err != nil {
		return fmt.Errorf("decrypting password for %s: %w", acct.ID, err)
	}

	addr := fmt.Sprintf("%s:%d", acct.SMTPHost, acct.SMTPPort)
	tlsCfg := &tls.Config{ServerName: acct.SMTPHost}

	var conn net.Conn
	if acct.SMTPSecure {
		d := tls.Dialer{Config: tlsCfg}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return &provider.TransientError{
			Provider: model.ProviderIMAP,
			Message:  fmt.Sprintf("connecting to SMTP %s: %v", addr, err),
			Cause:    err,
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if !acct.SMTPSecure && acct.SMTPStartTLS {
		if err := client.StartTLS(tlsCfg); err != nil {
			return &provider.TransientError{
				Provider: model.ProviderIMAP,
				Message:  fmt.Sprintf("starttls with SMTP %s: %v", addr, err),
				Cause:    err,
			}
		}
	}

	if password != "" {
		auth := sasl.NewPlainClient("", acct.Address, password)
		if err := client.Auth(auth); err != nil {
			return &provider.AuthError{
				Provider: model.ProviderIMAP,
				Message: fmt.Sprintf(
					"smtp authentication failed for %s: %v", acct.Address, err,
				),
			}
		}
	}

	recipients := make([]string, 0, len(req.To)+len(req.Cc)+len(req.Bcc))
	recipients = append(recipients, req.To...)
	recipients = append(recipients, req.Cc...)
	recipients = append(recipients, req.Bcc...)

	if err := client.SendMail(acct.Address, recipients, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("sending over smtp: %w", err)
	}
	return nil
}
