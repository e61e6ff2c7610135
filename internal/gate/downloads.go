// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package gate

import (
	"context"

	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/watermark"
)

// checkBlocked returns the denial for a requester under restriction.
func (s *Service) checkBlocked(ctx context.Context, req Request) error {
	if req.SessionID != "" && s.engine.IsTerminated(req.SessionID) {
		return models.ErrSessionExpired
	}
	r, err := s.engine.CheckRestrictions(ctx, req.Principal, req.IP, req.SessionID)
	if err != nil {
		return err
	}
	if r != nil {
		return restrictionError(r)
	}
	return nil
}

// RequestDownload returns a usable download permission or a denial.
func (s *Service) RequestDownload(ctx context.Context, req Request, documentID string, level models.AccessLevel, justification string) (*models.DownloadPermission, error) {
	if err := s.checkBlocked(ctx, req); err != nil {
		return nil, err
	}
	return s.downloads.Validate(ctx, req.Principal, documentID, level, justification, s.requestContext())
}

// ConsumeDownload records one download against a permission.
func (s *Service) ConsumeDownload(ctx context.Context, req Request, permissionID string) (*models.DownloadPermission, error) {
	if err := s.checkBlocked(ctx, req); err != nil {
		return nil, err
	}
	return s.downloads.Consume(ctx, req.Principal, permissionID)
}

// ApplyWatermark returns the requester's active watermark for a document.
func (s *Service) ApplyWatermark(ctx context.Context, req Request, documentID string, kind watermark.Kind) (watermark.Record, error) {
	if err := s.checkBlocked(ctx, req); err != nil {
		return watermark.Record{}, err
	}
	return s.watermarks.Apply(req.Principal.Key(), documentID, kind)
}

// VerifyWatermark checks a watermark found on a document copy.
func (s *Service) VerifyWatermark(id, hash string) bool {
	return s.watermarks.Verify(id, hash)
}

// EndViewing closes the requester's viewing of a document.
func (s *Service) EndViewing(req Request, documentID string) bool {
	return s.watermarks.EndViewing(req.Principal.Key(), documentID)
}
