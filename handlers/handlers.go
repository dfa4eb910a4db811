package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"citypulse/classifier"
	"citypulse/config"
	"citypulse/database"
	"citypulse/geocode"
	"citypulse/models"
	"citypulse/otp"
	"citypulse/sms"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// classificationWarning is the advisory notice shown when the image check
// does not confirm the selected category. Submission proceeds regardless.
const classificationWarning = "Warning: AI could not verify this image category."

// Handlers carries the injected service handles for all HTTP endpoints.
type Handlers struct {
	auth       *database.AuthService
	complaints *database.ComplaintService
	codes      otp.Store
	sms        *sms.Client
	classifier *classifier.Classifier
	geocoder   *geocode.Client
	cfg        *config.Config

	connectedClients func() int
}

// NewHandlers creates the handler set.
func NewHandlers(auth *database.AuthService, complaints *database.ComplaintService, codes otp.Store, smsClient *sms.Client, cls *classifier.Classifier, geocoder *geocode.Client, cfg *config.Config, connectedClients func() int) *Handlers {
	return &Handlers{
		auth:             auth,
		complaints:       complaints,
		codes:            codes,
		sms:              smsClient,
		classifier:       cls,
		geocoder:         geocoder,
		cfg:              cfg,
		connectedClients: connectedClients,
	}
}

// RequestCode sends a one-time code to a phone number.
func (h *Handlers) RequestCode(c *gin.Context) {
	var req models.RequestCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	phone, err := normalizePhone(req.Phone, h.cfg.PhonePrefix)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	code := otp.GenerateCode()
	if err := h.codes.Save(c.Request.Context(), phone, code); err != nil {
		log.Errorf("Failed to store verification code for %s: %v", phone, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to issue verification code"})
		return
	}

	if err := h.sms.Send(phone, fmt.Sprintf("Your CityPulse verification code is %s", code)); err != nil {
		log.Errorf("Failed to send verification code to %s: %v", phone, err)
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "failed to send verification code"})
		return
	}

	c.JSON(http.StatusOK, models.MessageResponse{Message: "verification code sent"})
}

// VerifyCode exchanges a one-time code for session tokens and the routing
// decision: phones on the admin allow-list go to the review dashboard,
// everyone else to the citizen flow.
func (h *Handlers) VerifyCode(c *gin.Context) {
	var req models.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	phone, err := normalizePhone(req.Phone, h.cfg.PhonePrefix)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Code) != 6 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "please enter the 6-digit code"})
		return
	}

	if err := h.codes.Consume(c.Request.Context(), phone, req.Code); err != nil {
		if errors.Is(err, otp.ErrCodeMismatch) {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "verification failed"})
			return
		}
		log.Errorf("Failed to check verification code for %s: %v", phone, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to check verification code"})
		return
	}

	user, err := h.auth.UpsertUserByPhone(c.Request.Context(), phone)
	if err != nil {
		log.Errorf("Failed to upsert user for %s: %v", phone, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "login failed"})
		return
	}

	role := h.cfg.RoleForPhone(phone)
	tokens, err := h.auth.IssueTokens(c.Request.Context(), user.ID, phone, role)
	if err != nil {
		log.Errorf("Failed to issue tokens for %s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "login failed"})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

// RefreshToken rotates an access token.
func (h *Handlers) RefreshToken(c *gin.Context) {
	var req models.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	tokens, err := h.auth.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid refresh token"})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

// SubmitComplaint validates and files a new complaint. The classification
// gate is advisory: an unverified image adds a warning to the response but
// never blocks the submission.
func (h *Handlers) SubmitComplaint(c *gin.Context) {
	var req models.SubmitComplaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Address = strings.TrimSpace(req.Address)

	// The three preconditions, checked in order; nothing is written if any
	// of them fails.
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "please select a complaint type"})
		return
	}
	if req.Address == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "please select a location"})
		return
	}
	if len(req.Image) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "please take a photo"})
		return
	}

	verified := h.classifier.Verify(req.Title, req.Image)

	userID := c.GetString("user_id")
	phone := c.GetString("phone")
	complaint, err := h.complaints.Create(c.Request.Context(), userID, phone, req.Title, req.Description, req.Address, req.Image)
	if err != nil {
		log.Errorf("Failed to create complaint for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to submit complaint"})
		return
	}

	resp := models.SubmitComplaintResponse{Complaint: *complaint, Verified: verified}
	if !verified {
		resp.Warning = classificationWarning
	}
	c.JSON(http.StatusOK, resp)
}

// ListMyComplaints returns the caller's complaints, newest first. An empty
// list is a normal response, not an error.
func (h *Handlers) ListMyComplaints(c *gin.Context) {
	userID := c.GetString("user_id")
	complaints, err := h.complaints.ListByUser(c.Request.Context(), userID)
	if err != nil {
		log.Errorf("Failed to list complaints for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list complaints"})
		return
	}

	c.JSON(http.StatusOK, models.ComplaintListResponse{Complaints: complaints, Count: len(complaints)})
}

// DeleteComplaint withdraws one of the caller's pending complaints.
func (h *Handlers) DeleteComplaint(c *gin.Context) {
	userID := c.GetString("user_id")
	id := c.Param("id")

	err := h.complaints.Delete(c.Request.Context(), id, userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, models.MessageResponse{Message: "complaint deleted"})
	case errors.Is(err, database.ErrNotFound), errors.Is(err, database.ErrNotOwner):
		// Someone else's complaint is indistinguishable from a missing one.
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "complaint not found"})
	case errors.Is(err, database.ErrNotPending):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "only pending complaints can be deleted"})
	default:
		log.Errorf("Failed to delete complaint %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to delete complaint"})
	}
}

// ListAllComplaints returns the full collection for the review dashboard.
func (h *Handlers) ListAllComplaints(c *gin.Context) {
	complaints, err := h.complaints.ListAll(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to list complaints: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list complaints"})
		return
	}

	c.JSON(http.StatusOK, models.ComplaintListResponse{Complaints: complaints, Count: len(complaints)})
}

// UpdateComplaintStatus records a review verdict. Last write wins; an already
// reviewed complaint can still be moved to the other terminal state.
func (h *Handlers) UpdateComplaintStatus(c *gin.Context) {
	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	id := c.Param("id")
	err := h.complaints.UpdateStatus(c.Request.Context(), id, req.Status)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, models.MessageResponse{Message: "status updated to " + req.Status})
	case errors.Is(err, database.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "complaint not found"})
	default:
		log.Errorf("Failed to update status of complaint %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to update status"})
	}
}

// GetComplaintImage returns the photo evidence for a complaint.
func (h *Handlers) GetComplaintImage(c *gin.Context) {
	id := c.Param("id")
	image, err := h.complaints.GetImage(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Data(http.StatusOK, http.DetectContentType(image), image)
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "complaint not found"})
	default:
		log.Errorf("Failed to read image of complaint %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to read image"})
	}
}

// ReverseGeocode resolves coordinates to a display address for the submission
// form. When the resolver is unavailable the raw coordinates are returned as
// the address, matching the mobile client's fallback.
func (h *Handlers) ReverseGeocode(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil || !geocode.ValidCoordinates(lat, lon) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid coordinates"})
		return
	}

	address, err := h.geocoder.Reverse(c.Request.Context(), lat, lon)
	if err != nil {
		log.Errorf("Reverse geocoding failed for %f,%f: %v", lat, lon, err)
		c.JSON(http.StatusOK, models.ReverseGeocodeResponse{Address: geocode.FallbackAddress(lat, lon)})
		return
	}

	c.JSON(http.StatusOK, models.ReverseGeocodeResponse{Address: address})
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	clients := 0
	if h.connectedClients != nil {
		clients = h.connectedClients()
	}
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:           "healthy",
		Service:          "citypulse-backend",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: clients,
	})
}

// normalizePhone validates a 10-digit local number and prefixes it with the
// fixed international prefix. Numbers already carrying the prefix are
// accepted as-is.
func normalizePhone(raw, prefix string) (string, error) {
	phone := strings.TrimSpace(raw)
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.TrimPrefix(phone, prefix)

	if len(phone) != 10 {
		return "", errors.New("please enter a valid 10-digit phone number")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", errors.New("please enter a valid 10-digit phone number")
		}
	}

	return prefix + phone, nil
}
