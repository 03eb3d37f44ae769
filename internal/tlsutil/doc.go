// Package tlsutil 为渠道与同步后端的出站连接提供统一的 TLS 客户端配置
// (TLS 1.2+，仅 AEAD 密码套件): api 渠道与 HTTP 同步后端的 http.Client、
// websocket 拨号，以及 SMTP/IMAP 的隐式 TLS。
package tlsutil
