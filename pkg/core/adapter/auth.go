package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// 凭证字段名，平台配置中的 credentials 使用这些键
const (
	CredAPIKey       = "api_key"
	CredUsername     = "username"
	CredPassword     = "password"
	CredClientID     = "client_id"
	CredClientSecret = "client_secret"
	CredTokenURL     = "token_url"
	CredAccessToken  = "access_token"
	CredRefreshToken = "refresh_token"
	CredScopes       = "scopes"
)

// errNotRefreshable 凭证不支持刷新（api_key/basic）
var errNotRefreshable = errors.New("凭证不支持刷新")

// Authenticator 为请求附加认证信息
type Authenticator interface {
	Type() types.AuthType
	// Apply 为请求设置认证头，获取令牌失败时返回 AuthExpiredError
	Apply(ctx context.Context, req *http.Request) error
	// Refresh 丢弃当前令牌并重新获取，不支持刷新时返回 errNotRefreshable
	Refresh(ctx context.Context) error
	// Credentials 返回当前凭证
	Credentials(ctx context.Context) (types.Credentials, error)
}

// apiKeyStyle 平台的API Key请求头格式
type apiKeyStyle struct {
	Header string
	Prefix string
}

type staticAuth struct {
	authType types.AuthType
	header   string
	value    string
}

func (a *staticAuth) Type() types.AuthType { return a.authType }

func (a *staticAuth) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set(a.header, a.value)
	return nil
}

func (a *staticAuth) Refresh(context.Context) error { return errNotRefreshable }

func (a *staticAuth) Credentials(context.Context) (types.Credentials, error) {
	return types.Credentials{Type: a.authType, AccessToken: a.value}, nil
}

// oauthAuth OAuth2令牌，过期后用refresh token轮换，刷新结果写入TokenStore
type oauthAuth struct {
	cfg     *oauth2.Config
	store   TokenStore
	key     string
	client  *http.Client
	initial *oauth2.Token

	mu      sync.Mutex
	src     oauth2.TokenSource
	current *oauth2.Token
}

func (a *oauthAuth) Type() types.AuthType { return types.AuthOAuth }

func (a *oauthAuth) refreshCtx() context.Context {
	// TokenSource会持有该ctx，不能使用请求级ctx
	return context.WithValue(context.Background(), oauth2.HTTPClient, a.client)
}

func (a *oauthAuth) token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.src == nil {
		seed := a.initial
		if cached, err := a.store.Load(ctx, a.key); err == nil && cached != nil {
			seed = cached
		}
		a.src = oauth2.ReuseTokenSource(seed, a.cfg.TokenSource(a.refreshCtx(), seed))
	}
	tok, err := a.src.Token()
	if err != nil {
		return nil, types.WrapError(types.KindAuthExpired, err, "获取OAuth令牌失败")
	}
	if a.current == nil || a.current.AccessToken != tok.AccessToken {
		a.current = tok
		_ = a.store.Save(ctx, a.key, tok)
	}
	return tok, nil
}

func (a *oauthAuth) Apply(ctx context.Context, req *http.Request) error {
	tok, err := a.token(ctx)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

// Refresh 作废当前access token，下一次取令牌时强制走refresh token
func (a *oauthAuth) Refresh(ctx context.Context) error {
	a.mu.Lock()
	refresh := a.initial.RefreshToken
	if a.current != nil && a.current.RefreshToken != "" {
		refresh = a.current.RefreshToken
	}
	seed := &oauth2.Token{RefreshToken: refresh}
	a.src = oauth2.ReuseTokenSource(nil, a.cfg.TokenSource(a.refreshCtx(), seed))
	a.current = nil
	a.mu.Unlock()

	_ = a.store.Delete(ctx, a.key)
	_, err := a.token(ctx)
	return err
}

func (a *oauthAuth) Credentials(ctx context.Context) (types.Credentials, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return types.Credentials{}, err
	}
	return types.Credentials{Type: types.AuthOAuth, AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// newAuthenticator 根据平台认证配置构造Authenticator
func newAuthenticator(platform *types.Platform, style apiKeyStyle, opts Options) (Authenticator, error) {
	creds := platform.AuthConfig.Credentials
	switch platform.AuthConfig.Type {
	case types.AuthAPIKey, "":
		key := strings.TrimSpace(creds[CredAPIKey])
		if key == "" {
			return nil, types.NewError(types.KindValidation, "平台 %s 缺少 %s 凭证", platform.ID, CredAPIKey)
		}
		return &staticAuth{authType: types.AuthAPIKey, header: style.Header, value: style.Prefix + key}, nil

	case types.AuthBasic:
		user, pass := creds[CredUsername], creds[CredPassword]
		if user == "" {
			return nil, types.NewError(types.KindValidation, "平台 %s 缺少 %s 凭证", platform.ID, CredUsername)
		}
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.SetBasicAuth(user, pass)
		return &staticAuth{authType: types.AuthBasic, header: "Authorization", value: req.Header.Get("Authorization")}, nil

	case types.AuthOAuth:
		if creds[CredAccessToken] == "" && creds[CredRefreshToken] == "" {
			return nil, types.NewError(types.KindValidation, "平台 %s 缺少 access_token 或 refresh_token", platform.ID)
		}
		if creds[CredRefreshToken] != "" && creds[CredTokenURL] == "" {
			return nil, types.NewError(types.KindValidation, "平台 %s 缺少 %s", platform.ID, CredTokenURL)
		}
		var scopes []string
		if s := creds[CredScopes]; s != "" {
			for _, part := range strings.Split(s, ",") {
				if part = strings.TrimSpace(part); part != "" {
					scopes = append(scopes, part)
				}
			}
		}
		return &oauthAuth{
			cfg: &oauth2.Config{
				ClientID:     creds[CredClientID],
				ClientSecret: creds[CredClientSecret],
				Endpoint:     oauth2.Endpoint{TokenURL: creds[CredTokenURL]},
				Scopes:       scopes,
			},
			store:   opts.Tokens,
			key:     platform.ID,
			client:  opts.HTTPClient,
			initial: &oauth2.Token{AccessToken: creds[CredAccessToken], RefreshToken: creds[CredRefreshToken], TokenType: "Bearer"},
		}, nil
	}
	return nil, types.NewError(types.KindValidation, "不支持的认证方式: %s", platform.AuthConfig.Type)
}
