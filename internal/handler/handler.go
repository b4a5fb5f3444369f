package handler

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/Rainnny7/LicenseServer/internal/service"
	"github.com/Rainnny7/LicenseServer/internal/util"
)

type Handler struct {
	licenses  *service.LicenseService
	usage     *service.UsageService
	oplogs    *service.OperationLogService
	db        *gorm.DB
	tokens    *util.TokenIssuer
	publicKey []byte
	validate  *validator.Validate
	logger    *slog.Logger
}

type Deps struct {
	Licenses  *service.LicenseService
	Usage     *service.UsageService
	OpLogs    *service.OperationLogService
	DB        *gorm.DB
	Tokens    *util.TokenIssuer
	PublicKey []byte
	Logger    *slog.Logger
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		licenses:  d.Licenses,
		usage:     d.Usage,
		oplogs:    d.OpLogs,
		db:        d.DB,
		tokens:    d.Tokens,
		publicKey: d.PublicKey,
		validate:  validator.New(),
		logger:    logger,
	}
}

// 返回给客户端的错误信息，不包含密钥或存储细节
var errorTable = []struct {
	err    error
	status int
	msg    string
}{
	{service.ErrInvalidRequest, fiber.StatusBadRequest, "Invalid request body"},
	{service.ErrSignature, fiber.StatusBadRequest, "Signature Error"},
	{service.ErrInvalidHWID, fiber.StatusBadRequest, "Invalid HWID"},
	{service.ErrInvalidIP, fiber.StatusBadRequest, "Invalid IP address"},
	{service.ErrLicenseNotFound, fiber.StatusNotFound, "License not found"},
	{service.ErrLicenseExpired, fiber.StatusBadRequest, "License has expired"},
	{service.ErrIPLimitExceeded, fiber.StatusBadRequest, "License key IP limit has been exceeded"},
	{service.ErrHWIDLimitExceeded, fiber.StatusBadRequest, "License key HWID limit has been exceeded"},
}

func errorResponse(c *fiber.Ctx, err error) error {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return c.Status(e.status).JSON(fiber.Map{"error": e.msg})
		}
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}

func badRequest(c *fiber.Ctx) error {
	return errorResponse(c, service.ErrInvalidRequest)
}

func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
