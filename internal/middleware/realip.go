package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const clientIPKey = "clientIP"

// RealIP 解析客户端 IP 并存入上下文。
// 只有部署在可信代理之后才应开启 trustProxy，否则客户端可以伪造请求头。
func RealIP(trustProxy bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(clientIPKey, resolveIP(c, trustProxy))
		return c.Next()
	}
}

// ClientIP 返回 RealIP 解析出的 IP，未经过 RealIP 时退回连接地址
func ClientIP(c *fiber.Ctx) string {
	if ip, ok := c.Locals(clientIPKey).(string); ok {
		return ip
	}
	return c.IP()
}

// resolveIP 的返回值会长期保存（限流表、事件），必须与 fasthttp 的请求缓冲区脱钩
func resolveIP(c *fiber.Ctx, trustProxy bool) string {
	return utils.CopyString(headerIP(c, trustProxy))
}

func headerIP(c *fiber.Ctx, trustProxy bool) string {
	if !trustProxy {
		return c.IP()
	}
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if forwarded := c.Get(fiber.HeaderXForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return c.IP()
}
