package models

import "time"

// Complaint statuses. A complaint starts Pending and is moved to Approved or
// Declined by the review dashboard.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusDeclined = "Declined"
)

// Complaint is the single durable entity of the system.
type Complaint struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	UserPhone   string `json:"userPhone"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"` // epoch milliseconds, set at creation
}

// User represents an authenticated citizen or administrator. The ID is stable
// per phone number across logins.
type User struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestCodeRequest asks for a one-time code to be sent to a phone.
type RequestCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// VerifyCodeRequest exchanges a one-time code for a session.
type VerifyCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// RefreshTokenRequest rotates an access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse carries the session tokens and the routing decision.
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	UserID       string `json:"user_id"`
	Phone        string `json:"phone"`
	Role         string `json:"role"`
}

// SubmitComplaintRequest is the submission payload. The image travels as
// base64-encoded bytes, same as report photos in the mobile client.
type SubmitComplaintRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Address     string `json:"address"`
	Image       []byte `json:"image"`
}

// SubmitComplaintResponse reports the created record and the advisory
// classification outcome.
type SubmitComplaintResponse struct {
	Complaint Complaint `json:"complaint"`
	Verified  bool      `json:"verified"`
	Warning   string    `json:"warning,omitempty"`
}

// UpdateStatusRequest is the admin review action.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ComplaintListResponse wraps a listing snapshot.
type ComplaintListResponse struct {
	Complaints []Complaint `json:"complaints"`
	Count      int         `json:"count"`
}

// ReverseGeocodeResponse resolves coordinates to a display address.
type ReverseGeocodeResponse struct {
	Address string `json:"address"`
}

// BroadcastMessage is the envelope pushed over the live feed.
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int    `json:"connected_clients"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
