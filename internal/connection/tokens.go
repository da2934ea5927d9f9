package connection

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// tokenFileTTL bounds how long a token read from disk is reused before the
// file is read again.
const tokenFileTTL = time.Minute

// ErrEmptyToken is returned when a token file holds no token.
var ErrEmptyToken = errors.New("token file is empty")

type fileTokenSource struct {
	path string
	now  func() time.Time
}

// FileTokenSource returns a TokenSource backed by a file holding a bearer
// token, such as one kept fresh by an external login helper. The file is
// re-read at most once a minute.
func FileTokenSource(path string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, fileTokenSource{path: path, now: time.Now})
}

func (s fileTokenSource) Token() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return nil, fmt.Errorf("%s: %w", s.path, ErrEmptyToken)
	}
	return &oauth2.Token{
		AccessToken: tok,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(tokenFileTTL),
	}, nil
}
