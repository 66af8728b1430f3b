package referral

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/TGMediaGen/internal/models"
	"github.com/digkill/TGMediaGen/internal/repository"
)

const codeLength = 8

// alphabet avoids ambiguous characters so codes survive being retyped.
const alphabet = "abcdefghjkmnpqrstuvwxyz23456789"

type Links interface {
	CreateLink(ctx context.Context, code string, inviterUserID int64) error
	FindLinkByInviter(ctx context.Context, inviterUserID int64) (*models.ReferralLink, error)
	FindLink(ctx context.Context, code string) (*models.ReferralLink, error)
	EnsureReferral(ctx context.Context, inviterUserID, inviteeUserID int64) error
	ListByInviter(ctx context.Context, inviterUserID int64) ([]repository.ReferralItem, error)
}

// Service manages invite links and first-touch attribution.
type Service struct {
	links   Links
	botName string
	log     *slog.Logger
}

func NewService(links Links, botName string, log *slog.Logger) *Service {
	return &Service{links: links, botName: botName, log: log}
}

// Link is the API shape of an invite.
type Link struct {
	Code string `json:"code"`
	URL  string `json:"url"`
}

// GetOrCreateLink returns the inviter's link, minting a code on first call.
func (s *Service) GetOrCreateLink(ctx context.Context, inviterUserID int64) (Link, error) {
	existing, err := s.links.FindLinkByInviter(ctx, inviterUserID)
	if err != nil {
		return Link{}, err
	}
	if existing != nil {
		return s.toLink(existing.Code), nil
	}

	// Codes collide only on a birthday-bound of 31^8; retry a few times on
	// the unique constraint rather than pre-checking.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomCode()
		if err != nil {
			return Link{}, err
		}
		if err := s.links.CreateLink(ctx, code, inviterUserID); err != nil {
			continue
		}
		return s.toLink(code), nil
	}
	return Link{}, fmt.Errorf("mint referral code for user %d", inviterUserID)
}

// Attribute binds an invitee to the inviter behind a start param. First touch
// wins; self-referrals and unknown codes are silently ignored.
func (s *Service) Attribute(ctx context.Context, inviteeUserID int64, startParam string) {
	code, found := strings.CutPrefix(startParam, "ref_")
	if !found {
		code = startParam
	}
	if !looksLikeCode(code) {
		return
	}
	link, err := s.links.FindLink(ctx, code)
	if err != nil {
		s.log.Error("lookup referral code", "code", code, "err", err)
		return
	}
	if link == nil || link.InviterUserID == inviteeUserID {
		return
	}
	if err := s.links.EnsureReferral(ctx, link.InviterUserID, inviteeUserID); err != nil {
		s.log.Error("attach referral", "code", code, "invitee", inviteeUserID, "err", err)
		return
	}
	s.log.Info("referral attributed", "inviter", link.InviterUserID, "invitee", inviteeUserID)
}

// List returns the inviter's referrals with purchase totals.
func (s *Service) List(ctx context.Context, inviterUserID int64) ([]repository.ReferralItem, error) {
	items, err := s.links.ListByInviter(ctx, inviterUserID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []repository.ReferralItem{}
	}
	return items, nil
}

func (s *Service) toLink(code string) Link {
	return Link{
		Code: code,
		URL:  fmt.Sprintf("https://t.me/%s?startapp=ref_%s", s.botName, code),
	}
}

func looksLikeCode(s string) bool {
	if len(s) != codeLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
