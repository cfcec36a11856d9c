package handlers

import (
	"net/http"

	"github.com/pribylovaa/edu-auth/internal/http/middleware"
	"github.com/pribylovaa/edu-auth/internal/http/response"
	"github.com/pribylovaa/edu-auth/internal/service"
)

// PresignUpload - POST /admin/uploads/presign {content_type, size}.
func (h *Handlers) PresignUpload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		response.WriteError(w, r, response.ErrUnavailable)
		return
	}

	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.WriteError(w, r, service.ErrAuthentication)
		return
	}

	var in PresignRequest
	if err := decodeStrict(r, &in); err != nil {
		response.WriteError(w, r, service.ErrInvalidArgument)
		return
	}

	info, err := h.uploads.VideoUploadURL(r.Context(), id.SubjectID, in.ContentType, in.Size)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, "upload url issued", info)
}
