/*
Package main 提供 HumanLoop 服务端程序入口。

# 子命令

  - serve：按配置注册渠道 (api / email / terminal / websocket)、启动同步后端，
    并在 HTTP 端口上暴露 /healthz、/readyz、/metrics 与任务快照接口
  - demo：在当前终端发起一次审批并等待结果
  - migrate：SQL 同步后端的数据库迁移
  - health、version

# 中间件

Recovery、RequestID、SecurityHeaders、RequestLogger、MetricsMiddleware、
OTelTracing、RateLimiter (按 IP) 以及 APIKeyAuth (X-API-Key 或 Bearer)。

构建信息 Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
