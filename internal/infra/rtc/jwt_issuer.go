package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"live-session/internal/domain"
)

// MediaClaims 是签发给 RTC 客户端的令牌内容。
type MediaClaims struct {
	Room              string `json:"room"`
	ParticipantNumber uint32 `json:"pn"`
	Role              string `json:"role"`
	CanPublish        bool   `json:"can_publish"`
	CanSubscribe      bool   `json:"can_subscribe"`
	jwt.RegisteredClaims
}

// JWTIssuer 使用与 RTC 提供方共享的密钥在本地签发 HS256 令牌。
type JWTIssuer struct {
	apiKey string
	secret []byte
	now    func() time.Time
}

// NewJWTIssuer 创建本地签发器，apiKey 写入 iss 字段供提供方识别。
func NewJWTIssuer(apiKey, secret string) (*JWTIssuer, error) {
	if secret == "" {
		return nil, errors.New("rtc: signing secret cannot be empty")
	}
	return &JWTIssuer{apiKey: apiKey, secret: []byte(secret), now: time.Now}, nil
}

// Issue 签发凭证
func (i *JWTIssuer) Issue(ctx context.Context, req domain.CredentialRequest) (*domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.RoomName == "" {
		return nil, errors.New("rtc: room name is required")
	}
	if req.TTL <= 0 {
		return nil, fmt.Errorf("rtc: invalid ttl %s", req.TTL)
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(req.TTL)
	claims := MediaClaims{
		Room:              req.RoomName,
		ParticipantNumber: req.ParticipantNumber,
		Role:              string(req.Role),
		CanPublish:        req.Role == domain.CredentialPublisher,
		CanSubscribe:      true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   req.Identity,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("rtc: failed to sign token: %w", err)
	}
	return &domain.Credential{Token: token, ExpiresAt: expiresAt}, nil
}

// Parse 校验令牌并返回其中的声明，供测试与调试端点使用。
func (i *JWTIssuer) Parse(token string) (*MediaClaims, error) {
	claims := &MediaClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("rtc: invalid token: %w", err)
	}
	return claims, nil
}
