/*
Package persistence 保存任务快照（TaskSnapshot），供平台与外部系统查询人机交互记录。

快照按 task -> conversation -> request 三层组织，由 manager 周期性或在请求进入终态时
推送到 Sink。可选后端：

  - MemorySink：进程内，测试与 demo 使用
  - RedisSink：每个任务一个 hash，go-redis
  - SQLSink：humanloop_tasks / humanloop_requests 两张表，gorm upsert，表结构由 internal/migration 管理
  - MongoSink：每个请求一个文档，mongo-driver v2 BulkWrite upsert
  - HTTPSink：POST /api/v1/humanloop/tasks/sync 到 GoHumanLoop 平台
  - MultiSink：errgroup 并发扇出

除 HTTPSink 外的后端同时实现 Reader，可按 task id 读回合并后的快照。
*/
package persistence
