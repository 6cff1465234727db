// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pool 提供有界的后台执行池。

cmd/agentrelay 用 Pool 承载异步的工作流执行：MaxWorkers 限制同时运行的
工作流数量，超出的排队等待；队列也满时 Submit 返回 ErrPoolFull，接口层
据此返回 503 并把已创建的任务标记为失败。worker 按需启动，空闲超时后
回收，至少保留一个。Close 不再接收新任务并等待队列排空。
*/
package pool
