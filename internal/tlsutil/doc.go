// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 tlsutil 为访问上游模型服务的出站 HTTP 客户端提供加固的 TLS 与连接池设置。

openaicompat.Provider 的同步客户端与流式客户端共享 NewTransport 创建的
同一个 Transport，前者带整体超时，后者只受调用方 context 约束。
*/
package tlsutil
