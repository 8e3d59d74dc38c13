// Package oauthdemo is a host-side example credential.Port implementation:
// a browser-based OAuth2 exchange against Google's endpoints, the same flow
// outtake drove directly from its sync code. Here it is adapted to sit
// behind credential.Port instead, since the OAuth user-agent flow itself is
// out of scope for the engine — real hosts are expected to supply their own
// Port backed by platform keychain storage.
package oauthdemo

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/hunterclarke/cosmos/lib/credential"
	"github.com/hunterclarke/cosmos/lib/model"
)

// ClientID and Secret are the OAuth2 client credentials for the demo host.
// A real host embeds its own.
const (
	ClientID = "457311175792-n3hpckfadgri6opat70c8an1fmhmaev7.apps.googleusercontent.com"
	Secret   = "GOylH6-BUUQFm_lzrhXKpdac"
)

// Credential is a credential.Port that mints tokens via a one-time browser
// OAuth2 exchange, caching the result in memory per account.
type Credential struct {
	cfg *oauth2.Config

	mu     sync.Mutex
	tokens map[model.AccountID]*oauth2.Token
}

// New returns a Credential configured against Google's OAuth2 endpoints
// with the Gmail read-only scope.
func New() *Credential {
	return &Credential{
		cfg: &oauth2.Config{
			ClientID:     ClientID,
			ClientSecret: Secret,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://accounts.google.com/o/oauth2/token",
			},
		},
		tokens: make(map[model.AccountID]*oauth2.Token),
	}
}

func (c *Credential) GetToken(ctx context.Context, account model.AccountID) (credential.Token, error) {
	c.mu.Lock()
	tok, ok := c.tokens[account]
	c.mu.Unlock()
	if ok && tok.Valid() {
		return toPortToken(tok), nil
	}
	return c.Refresh(ctx, account)
}

func (c *Credential) Refresh(ctx context.Context, account model.AccountID) (credential.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.tokens[account]; ok {
		if src := c.cfg.TokenSource(ctx, tok); src != nil {
			if refreshed, err := src.Token(); err == nil {
				c.tokens[account] = refreshed
				return toPortToken(refreshed), nil
			}
		}
	}
	tok, err := getOAuthClient(ctx, c.cfg)
	if err != nil {
		return credential.Token{}, err
	}
	c.tokens[account] = tok
	return toPortToken(tok), nil
}

func toPortToken(tok *oauth2.Token) credential.Token {
	return credential.Token{Bearer: tok.AccessToken, ExpiresAt: tok.Expiry}
}

func getOAuthClient(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	fmt.Println("Launching browser for OAuth exchange.")
	code, err := tokenFromWeb(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return cfg.Exchange(ctx, code)
}

func tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (string, error) {
	ch := make(chan string)
	randState := fmt.Sprintf("st%d", time.Now().UnixNano())
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/favicon.ico" {
			http.Error(rw, "", 404)
			return
		}
		if req.FormValue("state") != randState {
			log.Printf("state doesn't match: req = %#v", req)
			http.Error(rw, "", 500)
			return
		}
		if code := req.FormValue("code"); code != "" {
			fmt.Fprintf(rw, "<h1>Success</h1>Authorized.")
			rw.(http.Flusher).Flush()
			ch <- code
			return
		}
		http.Error(rw, "", 500)
	}))
	defer ts.Close()
	cfg.RedirectURL = ts.URL
	authURL := cfg.AuthCodeURL(randState)

	errs := make(chan error, 1)
	go func() { errs <- openURL(authURL) }()
	if err := <-errs; err != nil {
		return "", err
	}
	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func openURL(url string) error {
	for _, bin := range []string{"xdg-open", "google-chrome", "open"} {
		if err := exec.Command(bin, url).Run(); err == nil {
			return nil
		}
	}
	fmt.Printf("Open %v in your browser.\n", url)
	return nil
}
