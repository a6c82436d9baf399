// Package imapmail implements the provider adapter for plain
// IMAP/SMTP accounts, plus the incremental sync engine that tracks a
// per-account UID high-water mark.
package imapmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// dial connects and authenticates against the account's IMAP
// endpoint. The connection is established under the context and
// keeps the context's deadline as its I/O deadline, so a hung server
// cannot stall the caller past its budget. The caller owns the
// returned client and must Logout.
func dial(
	ctx context.Context,
	cipher *crypto.Cipher,
	acct *model.MailAccount,
) (*imapclient.Client, error) {
	password, err := cipher.DecryptOrLegacy(acct.PasswordEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypting password for %s: %w", acct.ID, err)
	}
	if password == "" {
		return nil, &provider.AuthError{
			Provider: model.ProviderIMAP,
			Message:  fmt.Sprintf("no password stored for %s", acct.Address),
		}
	}

	addr := fmt.Sprintf("%s:%d", acct.IMAPHost, acct.IMAPPort)
	tlsCfg := &tls.Config{ServerName: acct.IMAPHost}

	var conn net.Conn
	if acct.IMAPSecure {
		d := tls.Dialer{Config: tlsCfg}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &provider.TransientError{
			Provider: model.ProviderIMAP,
			Message:  fmt.Sprintf("connecting to %s: %v", addr, err),
			Cause:    err,
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *imapclient.Client
	if acct.IMAPSecure {
		client = imapclient.New(conn, nil)
	} else {
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{
			TLSConfig: tlsCfg,
		})
		if err != nil {
			conn.Close()
			return nil, &provider.TransientError{
				Provider: model.ProviderIMAP,
				Message:  fmt.Sprintf("starttls with %s: %v", addr, err),
				Cause:    err,
			}
		}
	}

	if err := client.Login(acct.Address, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &provider.AuthError{
			Provider: model.ProviderIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v", acct.Address, err,
			),
		}
	}

	return client, nil
}
