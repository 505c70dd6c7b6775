package server

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicedesk/internal/authorization"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": view})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoice(c *gin.Context) {
	view, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ReplaceInvoiceLines(c *gin.Context) {
	var req invoicedomain.ReplaceLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Override {
		if err := s.authorizeWithContext(c, authorization.ObjectInvoice, authorization.ActionInvoiceEditOverride); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	req.InvoiceID = c.Param("id")

	view, err := s.invoiceSvc.ReplaceLines(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) TransitionInvoice(c *gin.Context) {
	var req invoicedomain.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Override {
		if err := s.authorizeWithContext(c, authorization.ObjectInvoice, authorization.ActionInvoiceTransitionOverride); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	req.InvoiceID = c.Param("id")

	view, err := s.invoiceSvc.Transition(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) SendInvoice(c *gin.Context) {
	receipt, err := s.invoiceSvc.Send(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": receipt})
}

// RenderInvoice streams the PDF. ?download=true switches the disposition to attachment.
func (s *Server) RenderInvoice(c *gin.Context) {
	mode := invoicedomain.RenderMode(strings.TrimSpace(c.DefaultQuery("mode", string(invoicedomain.RenderModeClient))))
	download, err := parseOptionalBool(c.Query("download"))
	if err != nil {
		AbortWithError(c, newValidationError("download", "invalid_download", "invalid download flag"))
		return
	}

	doc, err := s.invoiceSvc.Render(c.Request.Context(), c.Param("id"), mode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	disposition := "inline"
	if download != nil && *download {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": doc.Filename}))
	c.Header("X-Document-SHA256", doc.SHA256)
	if doc.Pages > 0 {
		c.Header("X-Document-Pages", strconv.Itoa(doc.Pages))
	}
	c.Data(http.StatusOK, doc.ContentType, doc.Bytes)
}

func (s *Server) ListInvoiceReceipts(c *gin.Context) {
	receipts, err := s.invoiceSvc.Receipts(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": receipts})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	if err := s.invoiceSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
