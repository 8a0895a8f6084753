package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// HealthChecker はこのサービスが実際に必要とする2つの外部依存
// （キュー用Redisとストレージルート）の生存を報告する。
type HealthChecker struct {
	rdb         *redis.Client
	storageRoot string
}

func NewHealthChecker(rdb *redis.Client, storageRoot string) *HealthChecker {
	return &HealthChecker{rdb: rdb, storageRoot: storageRoot}
}

// Handle はGET /api/healthにサービス別の内訳付きで応答する。
func (h *HealthChecker) Handle(c *gin.Context) {
	services := gin.H{}
	overall := "ok"

	if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
		services["redis"] = "down"
		overall = "degraded"
	} else {
		services["redis"] = "ok"
	}

	if err := checkWritable(h.storageRoot); err != nil {
		services["storage"] = "down"
		overall = "degraded"
	} else {
		services["storage"] = "ok"
	}

	status := http.StatusOK
	if overall != "ok" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"services":  services,
		"timestamp": time.Now().UTC(),
	})
}

func checkWritable(root string) error {
	probe := filepath.Join(root, ".health-probe")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}
