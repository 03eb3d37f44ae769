// Package config 提供 humanloop 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 (前缀 GOHUMANLOOP) 的顺序加载,
// 覆盖管理器、各交互渠道、任务同步、日志与遥测。
package config
