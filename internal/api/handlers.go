package api

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"mailview/internal/auth"
	"mailview/internal/graph"
	"mailview/internal/models"
	"mailview/internal/service/directory"
	"mailview/internal/service/mailbox"
	"mailview/web"
)

// MailReader is the mailbox behaviour the mail routes need.
type MailReader interface {
	ListWeek(ctx context.Context, userID string) (*mailbox.Inbox, error)
	Details(ctx context.Context, userID, messageID string) (*models.Message, error)
}

// ProfileReader fetches the signed-in user's profile after the code exchange.
type ProfileReader interface {
	Me(ctx context.Context, ts oauth2.TokenSource) (*graph.Profile, error)
}

// Handler wires HTTP routes to the session, sign-in and mailbox services.
type Handler struct {
	auth      *auth.Service
	provider  *auth.Provider
	users     directory.Directory
	profiles  ProfileReader
	mail      MailReader
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(authService *auth.Service, provider *auth.Provider, users directory.Directory, profiles ProfileReader, mail MailReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		auth:      authService,
		provider:  provider,
		users:     users,
		profiles:  profiles,
		mail:      mail,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger,
	}
}

// RegisterRoutes installs the templates and attaches all HTTP routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) error {
	tmpl, err := web.Templates()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)
	// message ids may carry an escaped '/'
	router.UseRawPath = true
	router.UnescapePathValues = true

	site := router.Group("/")
	site.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	site.GET("/", h.home)

	authRoutes := site.Group("/auth")
	authRoutes.GET("/signin", h.signIn)
	authRoutes.GET("/callback", h.callback)
	authRoutes.POST("/signout", h.signOut)

	mail := site.Group("/mail")
	mail.Use(h.auth.RequireUser("/"))
	mail.GET("/", h.listMail)
	mail.GET("/details/:id", h.messageDetails)
	return nil
}

func (h *Handler) home(c *gin.Context) {
	h.render(c, http.StatusOK, "home", gin.H{})
}

func (h *Handler) signIn(c *gin.Context) {
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	sess.OAuthState = uuid.NewString()
	if err := h.auth.Save(c.Request.Context(), sess); err != nil {
		h.logger.Error("save oauth state", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(sess.OAuthState))
}

func (h *Handler) callback(c *gin.Context) {
	ctx := c.Request.Context()
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	if errCode := c.Query("error"); errCode != "" {
		h.flashAndRedirect(c, sess, "Sign-in was not completed", debugJSON(fmt.Errorf("%s: %s", errCode, c.Query("error_description"))), "/")
		return
	}
	state := c.Query("state")
	if state == "" || sess.OAuthState == "" || state != sess.OAuthState {
		h.flashAndRedirect(c, sess, "Sign-in state did not match, please try again", "", "/")
		return
	}
	sess.OAuthState = ""

	tok, err := h.provider.Exchange(ctx, c.Query("code"))
	if err != nil {
		h.logger.Error("exchange authorization code", zap.Error(err))
		h.flashAndRedirect(c, sess, "Could not sign in", debugJSON(err), "/")
		return
	}
	profile, err := h.profiles.Me(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		h.logger.Error("fetch profile", zap.Error(err))
		h.flashAndRedirect(c, sess, "Could not load your profile", debugJSON(err), "/")
		return
	}

	user := &models.User{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email(),
		TimeZone:    profile.MailboxSettings.TimeZone,
	}
	if err := h.users.Put(ctx, user); err != nil {
		h.logger.Error("store user", zap.String("user_id", user.ID), zap.Error(err))
		h.flashAndRedirect(c, sess, "Could not sign in", debugJSON(err), "/")
		return
	}
	if err := h.users.SetToken(ctx, user.ID, tok); err != nil {
		h.logger.Error("store token", zap.String("user_id", user.ID), zap.Error(err))
		h.flashAndRedirect(c, sess, "Could not sign in", debugJSON(err), "/")
		return
	}
	if err := h.auth.BindUser(ctx, sess, user.ID); err != nil {
		h.logger.Error("bind session", zap.String("user_id", user.ID), zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	h.auth.SetCookie(c, sess)
	h.addFlash(c, models.Flash{Kind: models.FlashInfo, Message: "Signed in as " + user.DisplayName})
	h.logger.Info("signed in", zap.String("user_id", user.ID), zap.String("time_zone", user.TimeZone))
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) signOut(c *gin.Context) {
	if sess, ok := auth.SessionFromContext(c); ok {
		if err := h.auth.Revoke(c.Request.Context(), sess.ID); err != nil {
			h.logger.Warn("revoke session", zap.Error(err))
		}
	}
	h.auth.ClearCookie(c)
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) listMail(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	data := gin.H{"active": gin.H{"mail": true}}

	inbox, err := h.mail.ListWeek(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list messages", zap.String("user_id", userID), zap.Error(err))
		h.addFlash(c, models.Flash{Kind: models.FlashError, Message: "Could not fetch messages", Debug: debugJSON(err)})
		h.render(c, http.StatusOK, "mail", data)
		return
	}
	data["messages"] = inbox.Messages
	data["window"] = inbox.Window
	h.render(c, http.StatusOK, "mail", data)
}

func (h *Handler) messageDetails(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	id := c.Param("id")

	msg, err := h.mail.Details(c.Request.Context(), userID, id)
	if err != nil {
		h.logger.Error("get message", zap.String("user_id", userID), zap.String("message_id", id), zap.Error(err))
		message := "Could not fetch message"
		var gerr *graph.Error
		if errors.As(err, &gerr) && gerr.NotFound() {
			message = "Message not found"
		}
		sess, _ := auth.SessionFromContext(c)
		h.flashAndRedirect(c, sess, message, debugJSON(err), "/mail/")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.bodyHTML(msg)))
}

// bodyHTML returns the message body safe to serve as a document.
func (h *Handler) bodyHTML(msg *models.Message) string {
	if msg.Body == nil {
		return ""
	}
	if strings.EqualFold(msg.Body.ContentType, "text") {
		return "<pre>" + html.EscapeString(msg.Body.Content) + "</pre>"
	}
	return h.sanitizer.Sanitize(msg.Body.Content)
}

// render pops the session's flashes and fills the layout fields before
// executing the named template.
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	if _, ok := data["active"]; !ok {
		data["active"] = gin.H{}
	}
	if sess, ok := auth.SessionFromContext(c); ok {
		data["flashes"] = h.auth.PopFlashes(c.Request.Context(), sess)
		data["csrf"] = sess.CSRFToken
		if sess.Authenticated() {
			user, err := h.users.Get(c.Request.Context(), sess.UserID)
			if err != nil {
				h.logger.Warn("load session user", zap.String("user_id", sess.UserID), zap.Error(err))
			} else {
				data["user"] = user
			}
		}
	}
	c.HTML(status, name, data)
}

func (h *Handler) addFlash(c *gin.Context, flash models.Flash) {
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		return
	}
	if err := h.auth.AddFlash(c.Request.Context(), sess, flash); err != nil {
		h.logger.Warn("add flash", zap.Error(err))
	}
}

func (h *Handler) flashAndRedirect(c *gin.Context, sess *models.Session, message, debug, location string) {
	if sess != nil {
		if err := h.auth.AddFlash(c.Request.Context(), sess, models.Flash{Kind: models.FlashError, Message: message, Debug: debug}); err != nil {
			h.logger.Warn("add flash", zap.Error(err))
		}
	}
	c.Redirect(http.StatusFound, location)
}

// debugJSON renders err for the flash debug field.
func debugJSON(err error) string {
	if err == nil {
		return ""
	}
	var payload interface{} = gin.H{"error": err.Error()}
	var gerr *graph.Error
	if errors.As(err, &gerr) {
		payload = gerr
	}
	out, merr := json.MarshalIndent(payload, "", "  ")
	if merr != nil {
		return err.Error()
	}
	return string(out)
}
