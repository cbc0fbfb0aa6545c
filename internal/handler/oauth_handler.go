package handler

import (
	"log"
	"net/http"

	"tasksync/internal/config"
	"tasksync/internal/service"
	"tasksync/pkg/response"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// OAuthHandler implements the Google login flow: redirect to consent, then
// exchange the callback code and resolve the profile to a local account.
type OAuthHandler struct {
	authService *service.AuthService
	oauthConfig *oauth2.Config
}

func NewOAuthHandler(authService *service.AuthService, cfg config.GoogleOAuthConfig) *OAuthHandler {
	return &OAuthHandler{
		authService: authService,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
	}
}

func (h *OAuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauthConfig.ClientID == "" {
		response.Error(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}

	state := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   300,
	})

	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (h *OAuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		response.BadRequest(w, "Invalid OAuth state")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		response.BadRequest(w, "Missing authorization code")
		return
	}

	ctx := r.Context()
	token, err := h.oauthConfig.Exchange(ctx, code)
	if err != nil {
		log.Printf("google code exchange failed: %v", err)
		response.Unauthorized(w, "Failed to exchange authorization code")
		return
	}

	oauthService, err := googleoauth.NewService(ctx, option.WithHTTPClient(h.oauthConfig.Client(ctx, token)))
	if err != nil {
		log.Printf("failed to create userinfo service: %v", err)
		response.InternalError(w, "Failed to fetch Google profile")
		return
	}

	userinfo, err := oauthService.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		log.Printf("failed to fetch userinfo: %v", err)
		response.InternalError(w, "Failed to fetch Google profile")
		return
	}

	loginResp, err := h.authService.LoginWithGoogle(userinfo.Id, userinfo.Email, userinfo.Name)
	if err != nil {
		log.Printf("google login failed: %v", err)
		response.Unauthorized(w, "Google login failed")
		return
	}

	response.Success(w, loginResp)
}
