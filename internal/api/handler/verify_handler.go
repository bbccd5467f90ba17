package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/academicchain/issuance-be/internal/api/domain"
	"github.com/academicchain/issuance-be/internal/api/dto"
)

// Verify handles GET /api/v1/verify?credential_id=<id>.
// A credential is valid when a token exists on the primary ledger and the
// record is not revoked. Secondary anchor state is reported but never
// affects validity.
func (h *IssuanceHandler) Verify(c *gin.Context) {
	id := c.Query("credential_id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "credential_id is required",
		})
		return
	}

	cred, err := h.storage.GetCredential(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			c.JSON(http.StatusOK, dto.VerifyResponse{Valid: false})
			return
		}
		h.logger.Error("Failed to look up credential", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to verify credential",
		})
		return
	}

	resp := dto.VerifyResponse{
		Valid:        cred.TokenID.Valid && cred.TokenID.String != "" && !cred.Revoked,
		CredentialID: cred.CredentialID,
		Revoked:      cred.Revoked,
	}
	if cred.TokenID.Valid {
		resp.TokenID = cred.TokenID.String
	}
	if cred.SerialNumber.Valid {
		resp.SerialNumber = cred.SerialNumber.Int64
	}
	if cred.MetadataURI.Valid {
		resp.MetadataURI = cred.MetadataURI.String
	}

	anchors, err := h.storage.GetAnchors(c.Request.Context(), cred.UniqueHash)
	if err != nil {
		h.logger.Warn("Failed to load anchors for verification",
			slog.String("unique_hash", cred.UniqueHash),
			slog.String("error", err.Error()),
		)
	} else {
		for _, a := range anchors {
			adto := dto.AnchorDTO{
				Ledger:   a.Ledger,
				Status:   a.Status,
				Attempts: a.Attempts,
			}
			if a.TxID.Valid {
				adto.TxID = a.TxID.String
			}
			resp.Anchors = append(resp.Anchors, adto)
		}
	}

	c.JSON(http.StatusOK, resp)
}
