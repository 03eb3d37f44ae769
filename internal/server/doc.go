/*
包 server 提供运维 HTTP 服务: 生命周期管理、健康与就绪探针、Prometheus
指标以及只读的任务快照查询。

  - Server: 封装 net/http.Server，非阻塞启动、优雅关闭、信号等待。
  - HealthHandler: /healthz 存活探针，/readyz 逐项运行 HealthCheck。
  - TaskHandler: /api/v1/tasks 列出任务，/api/v1/tasks/{id} 返回快照，
    POST /api/v1/tasks/{id}/sync 手动触发同步。
  - Response / WriteError: 统一 JSON 响应，types.Error 错误码映射为 HTTP 状态码。
*/
package server
