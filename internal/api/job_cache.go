package api

import (
	"strconv"
	"sync/atomic"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-gonic/gin"
)

// jobListCacheTTL 公开职位列表的响应缓存时长。
const jobListCacheTTL = 15 * time.Second

// jobListCache 按请求 URI 缓存公开职位列表。缓存键带版本号，
// 本进程内任何职位写操作成功后递增版本，旧条目不再命中并随过期清理。
// worker 异步导入的职位不经过这里，最多延迟一个 TTL 出现。
type jobListCache struct {
	store   persist.CacheStore
	ttl     time.Duration
	version atomic.Uint64
}

func newJobListCache(ttl time.Duration) *jobListCache {
	return &jobListCache{store: persist.NewMemoryStore(time.Minute), ttl: ttl}
}

func (j *jobListCache) Middleware() gin.HandlerFunc {
	return cache.Cache(j.store, j.ttl, cache.WithCacheStrategyByRequest(func(c *gin.Context) (bool, cache.Strategy) {
		key := strconv.FormatUint(j.version.Load(), 10) + ":" + c.Request.RequestURI
		return true, cache.Strategy{CacheKey: key}
	}))
}

func (j *jobListCache) Invalidate() {
	j.version.Add(1)
}

// InvalidateOnWrite 在职位写接口成功返回后使列表缓存失效。
func (j *jobListCache) InvalidateOnWrite() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if status := c.Writer.Status(); status >= 200 && status < 300 {
			j.Invalidate()
		}
	}
}
