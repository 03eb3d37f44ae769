/*
Package testutil 提供 HumanLoop 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertStatus / AssertErrorCode / AssertJSONEqual
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockProvider，内嵌 provider.Base，支持错误注入、
    渠道失败与自动应答
  - testutil/fixtures: 请求上下文、请求记录与结果样例

# 使用示例

	ctx := testutil.TestContext(t)
	p := mocks.NewApprovingProvider("mock", 10*time.Millisecond)
	m := manager.New()
	m.RegisterProvider(p, "")
	res, err := m.RequestAndWait(ctx, opts)
	testutil.AssertStatus(t, types.StatusApproved, res)
*/
package testutil
