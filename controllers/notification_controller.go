package controller

import (
	"sync"
	"time"

	"reachly/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationHub fans persisted notifications out to connected websocket
// clients. Delivery is best effort; the REST endpoint is the source of truth.
type NotificationHub struct {
	mu    sync.RWMutex
	conns map[uint]map[*websocket.Conn]bool
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{conns: make(map[uint]map[*websocket.Conn]bool)}
}

func (h *NotificationHub) add(userID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]bool)
	}
	h.conns[userID][conn] = true
}

func (h *NotificationHub) remove(userID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], conn)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Publish pushes one notification to every open connection of the user.
func (h *NotificationHub) Publish(n *models.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns[n.UserID] {
		if err := conn.WriteJSON(n); err != nil {
			// Connection is dead; the read loop will clean it up.
			continue
		}
	}
}

type NotificationController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Hub    *NotificationHub
}

func NewNotificationController(db *gorm.DB, hub *NotificationHub, logger *logrus.Logger) *NotificationController {
	return &NotificationController{DB: db, Logger: logger, Hub: hub}
}

func (nc *NotificationController) GetNotifications(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var notifications []models.Notification
	if err := nc.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Limit(50).
		Find(&notifications).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch notifications",
		})
	}
	return c.JSON(notifications)
}

func (nc *NotificationController) MarkRead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	result := nc.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", c.Params("id"), user.ID).
		Update("read_at", time.Now())
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to mark notification read",
		})
	}
	return c.JSON(fiber.Map{"message": "Notification marked read"})
}

// StreamNotifications is the websocket handler. The user is resolved by the
// auth middleware before the upgrade.
func (nc *NotificationController) StreamNotifications() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		user, ok := conn.Locals("user").(*models.User)
		if !ok {
			conn.Close()
			return
		}

		nc.Hub.add(user.ID, conn)
		defer func() {
			nc.Hub.remove(user.ID, conn)
			conn.Close()
		}()

		// Read loop exists only to detect disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}
