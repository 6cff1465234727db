// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的键值缓存，供任务状态轮询等热点读路径使用。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete/Ping/Close，
    所有键自动加上 KeyPrefix。
  - Config：地址、密码、连接池、默认 TTL 与探测间隔。

# 错误语义

未命中返回 ErrCacheMiss（可用 IsCacheMiss 判断），关闭后的调用返回 ErrClosed。

# 可用性

HealthCheckInterval 大于 0 时，连接级错误会把 Redis 标记为不可用，此后
Get/Set/Delete 立即返回 ErrUnavailable 而不再等待网络超时；后台探测 Ping
成功后清除标记。Available 报告当前状态。
*/
package cache
