package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/Rainnny7/LicenseServer/internal/keyexchange"
	"github.com/Rainnny7/LicenseServer/internal/middleware"
	"github.com/Rainnny7/LicenseServer/internal/service"
	"github.com/Rainnny7/LicenseServer/internal/util"
)

// LicenseKeyInput 管理员按明文密钥操作许可证
type LicenseKeyInput struct {
	Key     string `json:"key" validate:"required,max=128"`
	Product string `json:"product" validate:"required,max=64"`
}

// HandleCheck 客户端校验许可证
func (h *Handler) HandleCheck(c *fiber.Ctx) error {
	req := new(service.CheckRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c)
	}
	req.Product = utils.CopyString(req.Product)
	req.IP = middleware.ClientIP(c)
	req.UserAgent = utils.CopyString(c.Get(fiber.HeaderUserAgent))

	view, err := h.licenses.CheckEnvelope(c.UserContext(), *req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(view)
}

// HandlePublicKey 下载服务端公钥
func (h *Handler) HandlePublicKey(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+keyexchange.PublicKeyFile+`"`)
	return c.Send(h.publicKey)
}

// HandleCreateLicense 创建许可证，原始密钥只在响应中出现一次
func (h *Handler) HandleCreateLicense(c *fiber.Ctx) error {
	input := new(service.CreateLicenseInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c)
	}

	rawKey, license, err := h.licenses.Create(c.UserContext(), *input)
	if err != nil {
		return errorResponse(c, err)
	}

	h.logOperation(c, "license.create", license.Product, fiber.Map{
		"key":        util.ObfuscateKey(rawKey),
		"ip_limit":   license.IPLimit,
		"hwid_limit": license.HWIDLimit,
		"duration":   license.Duration,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"key":     rawKey,
		"license": license.Details(),
	})
}

// HandleLookupLicense 查询许可证详情
func (h *Handler) HandleLookupLicense(c *fiber.Ctx) error {
	input, ok := h.parseKeyInput(c)
	if !ok {
		return badRequest(c)
	}
	license, err := h.licenses.Lookup(c.UserContext(), input.Key, input.Product)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(license.Details())
}

// HandleClearIPs 清空许可证记录的 IP
func (h *Handler) HandleClearIPs(c *fiber.Ctx) error {
	input, ok := h.parseKeyInput(c)
	if !ok {
		return badRequest(c)
	}
	license, err := h.licenses.ClearIPs(c.UserContext(), input.Key, input.Product)
	if err != nil {
		return errorResponse(c, err)
	}
	h.logOperation(c, "license.clear_ips", input.Product, fiber.Map{"key": util.ObfuscateKey(input.Key)})
	return c.JSON(fiber.Map{
		"message": "IP 已清空",
		"license": license.Details(),
	})
}

// HandleClearHWIDs 清空许可证记录的 HWID
func (h *Handler) HandleClearHWIDs(c *fiber.Ctx) error {
	input, ok := h.parseKeyInput(c)
	if !ok {
		return badRequest(c)
	}
	license, err := h.licenses.ClearHWIDs(c.UserContext(), input.Key, input.Product)
	if err != nil {
		return errorResponse(c, err)
	}
	h.logOperation(c, "license.clear_hwids", input.Product, fiber.Map{"key": util.ObfuscateKey(input.Key)})
	return c.JSON(fiber.Map{
		"message": "HWID 已清空",
		"license": license.Details(),
	})
}

// HandleDeleteLicense 删除许可证
func (h *Handler) HandleDeleteLicense(c *fiber.Ctx) error {
	input, ok := h.parseKeyInput(c)
	if !ok {
		return badRequest(c)
	}
	if err := h.licenses.Delete(c.UserContext(), input.Key, input.Product); err != nil {
		return errorResponse(c, err)
	}
	h.logOperation(c, "license.delete", input.Product, fiber.Map{"key": util.ObfuscateKey(input.Key)})
	return c.JSON(fiber.Map{
		"message": "许可证删除成功",
	})
}

// HandleLicenseUsage 查询许可证最近的校验记录
func (h *Handler) HandleLicenseUsage(c *fiber.Ctx) error {
	input := LicenseKeyInput{Key: c.Query("key"), Product: c.Query("product")}
	if err := h.validate.Struct(input); err != nil {
		return badRequest(c)
	}
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	usages, err := h.usage.History(c.UserContext(), input.Key, input.Product, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"usages": usages,
	})
}

func (h *Handler) parseKeyInput(c *fiber.Ctx) (*LicenseKeyInput, bool) {
	input := new(LicenseKeyInput)
	if err := c.BodyParser(input); err != nil {
		return nil, false
	}
	if err := h.validate.Struct(input); err != nil {
		return nil, false
	}
	return input, true
}

// logOperation 记录管理员操作，失败只写日志
func (h *Handler) logOperation(c *fiber.Ctx, action, product string, details interface{}) {
	userID, _ := c.Locals("userID").(uint)
	if err := h.oplogs.LogOperation(c.UserContext(), userID, action, product, details); err != nil {
		h.logger.Warn("记录操作日志失败", "action", action, "error", err)
	}
}
