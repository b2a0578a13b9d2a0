package handler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pdfrag/internal/app"
	"pdfrag/internal/model"
	"pdfrag/internal/transport/http/middleware"
	"pdfrag/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type Ingestor interface {
	Ingest(ctx context.Context, input app.IngestInput) (*app.IngestResult, error)
}

type DocumentManager interface {
	List(ctx context.Context, userID uint) ([]model.Document, error)
	Get(ctx context.Context, userID, documentID uint) (*model.Document, error)
	Chunks(ctx context.Context, userID, documentID uint) ([]model.Chunk, error)
	Delete(ctx context.Context, userID, documentID uint) error
	ReembedFallbacks(ctx context.Context, userID, documentID uint) (*app.ReembedResult, error)
}

type PDFHandler struct {
	ingestor  Ingestor
	documents DocumentManager
}

func NewPDFHandler(ingestor Ingestor, documents DocumentManager) *PDFHandler {
	return &PDFHandler{ingestor: ingestor, documents: documents}
}

// Upload accepts a multipart form with a "file" field holding one PDF.
func (h *PDFHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPDFSize+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, "file too large (max 10MB)")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	result, err := h.ingestor.Ingest(c.Request.Context(), app.IngestInput{
		UserID:   userID,
		FileName: file.Filename,
		Content:  f,
	})
	if err != nil {
		var ingestErr *app.IngestionError
		if errors.As(err, &ingestErr) && ingestErr.Stage != app.StageStored && ingestErr.Stage != app.StagePersisted {
			response.Failure(c, http.StatusUnprocessableEntity, response.CodeUnprocessable, "Failed to process PDF", err.Error())
			return
		}
		response.Failure(c, http.StatusInternalServerError, response.CodeInternalServer, "Failed to process PDF", err.Error())
		return
	}

	response.Created(c, "PDF uploaded and processed successfully", gin.H{
		"pdf_id":          result.Document.ID,
		"chunks":          result.ChunkCount,
		"fallback_chunks": result.FallbackCount,
		"indexed_chunks":  result.IndexedCount,
	})
}

func (h *PDFHandler) ListDocuments(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docs, err := h.documents.List(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, gin.H{"documents": docs})
}

func (h *PDFHandler) GetDocument(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, err := parseUintParam(c, "id")
	if err != nil || documentID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), userID, documentID)
	if err != nil {
		writeDocumentError(c, err, "get document failed")
		return
	}
	chunks, err := h.documents.Chunks(c.Request.Context(), userID, documentID)
	if err != nil {
		writeDocumentError(c, err, "list document chunks failed")
		return
	}
	response.OK(c, gin.H{"document": doc, "chunks": chunks})
}

func (h *PDFHandler) DeleteDocument(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, err := parseUintParam(c, "id")
	if err != nil || documentID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	if err := h.documents.Delete(c.Request.Context(), userID, documentID); err != nil {
		writeDocumentError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": documentID})
}

// Reembed retries chunks of a document that were stored with the fallback vector.
func (h *PDFHandler) Reembed(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, err := parseUintParam(c, "id")
	if err != nil || documentID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	result, err := h.documents.ReembedFallbacks(c.Request.Context(), userID, documentID)
	if err != nil {
		writeDocumentError(c, err, "re-embed document failed")
		return
	}
	response.OK(c, result)
}

func writeDocumentError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	u, err := strconv.ParseUint(c.Param(key), 10, 64)
	return uint(u), err
}
