// Copyright (c) HumanLoop Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、请求生命周期、
回调、超时监督与任务同步五个维度。

# 概述

Collector 通过 promauto.With(reg) 注册到调用方提供的 Registerer，
为 nil 时使用默认 registry。所有指标按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 请求指标：新建请求数（provider/loop_type/kind）、终态分布、阻塞等待耗时。
  - 回调指标：update/timeout/error 三类回调的成功与失败次数。
  - 超时指标：超时次数、续期次数、活跃闹钟数 Gauge。
  - 同步指标：任务快照同步次数与耗时。
*/
package metrics
