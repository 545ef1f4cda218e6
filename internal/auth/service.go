package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trading-assistant/internal/access"
	"trading-assistant/internal/logging"
)

// Service exchanges roster-approved identifiers for token pairs. There are no
// passwords; identity is the allow-list.
type Service struct {
	gate       *access.Gate
	jwtManager *JWTManager
	log        *logging.Logger
}

// NewService creates an authentication service
func NewService(gate *access.Gate, jwtManager *JWTManager) *Service {
	return &Service{
		gate:       gate,
		jwtManager: jwtManager,
		log:        logging.WithComponent("auth"),
	}
}

// Login checks the identifier against the roster and issues a token pair
func (s *Service) Login(userID string) (*LoginResponse, error) {
	if err := s.gate.Check(userID); err != nil {
		return nil, err
	}

	pair, err := s.jwtManager.GenerateTokenPair(UserClaims{UserID: userID})
	if err != nil {
		return nil, err
	}

	s.log.Info("user logged in", "user_id", userID)
	return &LoginResponse{
		UserID:       userID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// HandleLogin handles POST /api/auth/login
func (s *Service) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "user_id is required",
		})
		return
	}

	resp, err := s.Login(req.UserID)
	if err != nil {
		var denied *access.DeniedError
		if errors.As(err, &denied) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "access_denied",
				"message": "user is not authorized",
			})
			return
		}
		s.log.Error("login failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "failed to issue tokens",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
