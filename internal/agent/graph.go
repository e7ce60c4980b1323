package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

const (
	NodePlanner    = "planner"
	NodeReasoner   = "reasoner"
	NodeDispatcher = "dispatcher"
	NodeGiveUp     = "give_up"

	graphName = "estate_agent"
)

type nodeFunc func(ctx context.Context, st ConversationState) (StateUpdate, error)

// turnScope 记录一轮对话中跨节点需要带回给 Engine 的信息。
type turnScope struct {
	threadID      string
	checkpointErr error
}

type turnScopeKey struct{}

func withTurnScope(ctx context.Context, s *turnScope) context.Context {
	return context.WithValue(ctx, turnScopeKey{}, s)
}

func scopeFrom(ctx context.Context) *turnScope {
	s, _ := ctx.Value(turnScopeKey{}).(*turnScope)
	return s
}

type graphDeps struct {
	planner       *Planner
	reasoner      *Reasoner
	dispatcher    *Dispatcher
	checkpointer  *Checkpointer
	hook          NodeHook
	maxIterations int
}

// buildGraph 构建 planner -> reasoner -> {dispatcher -> reasoner}* -> END 的状态机。
// reasoner 达到迭代上限仍要调用工具时转入 give_up。
func buildGraph(ctx context.Context, d graphDeps) (compose.Runnable[ConversationState, ConversationState], error) {
	g := compose.NewGraph[ConversationState, ConversationState]()

	nodes := []struct {
		key string
		fn  nodeFunc
	}{
		{NodePlanner, d.planner.planNode},
		{NodeReasoner, d.reasoner.reasonNode},
		{NodeDispatcher, d.dispatcher.dispatchNode},
		{NodeGiveUp, giveUpNode},
	}
	for _, n := range nodes {
		if err := g.AddLambdaNode(n.key, compose.InvokableLambda(d.wrap(n.key, n.fn))); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.key, err)
		}
	}

	if err := g.AddEdge(compose.START, NodePlanner); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodePlanner, NodeReasoner); err != nil {
		return nil, err
	}

	err := g.AddBranch(NodeReasoner, compose.NewGraphBranch(func(ctx context.Context, st ConversationState) (string, error) {
		if st.failed || st.RoutingSignal != SignalContinueToTools {
			return compose.END, nil
		}
		if st.Iterations >= d.maxIterations {
			return NodeGiveUp, nil
		}
		return NodeDispatcher, nil
	}, map[string]bool{
		NodeDispatcher: true,
		NodeGiveUp:     true,
		compose.END:    true,
	}))
	if err != nil {
		return nil, err
	}

	// dispatcher 正常总是回到 reasoner；没有可执行的调用时直接结束
	err = g.AddBranch(NodeDispatcher, compose.NewGraphBranch(func(ctx context.Context, st ConversationState) (string, error) {
		if st.RoutingSignal == SignalTerminate {
			return compose.END, nil
		}
		return NodeReasoner, nil
	}, map[string]bool{
		NodeReasoner: true,
		compose.END:  true,
	}))
	if err != nil {
		return nil, err
	}

	if err := g.AddEdge(NodeGiveUp, compose.END); err != nil {
		return nil, err
	}

	// 迭代次数由 give_up 节点约束，这里只需给出足够宽松的步数上限
	return g.Compile(ctx,
		compose.WithGraphName(graphName),
		compose.WithMaxRunSteps(3*d.maxIterations+10),
	)
}

// wrap 给节点加上合并、checkpoint 与 hook。节点失败时不合并也不落盘，只标记本轮失败。
// checkpoint 写入失败对本轮是致命的。
func (d graphDeps) wrap(name string, fn nodeFunc) func(context.Context, ConversationState) (ConversationState, error) {
	return func(ctx context.Context, st ConversationState) (ConversationState, error) {
		if d.hook != nil {
			d.hook.BeforeNode(ctx, name, &st)
		}
		start := time.Now()

		up, err := fn(ctx, st)
		if err != nil {
			st.failed = true
			st.RoutingSignal = SignalTerminate
			if d.hook != nil {
				d.hook.AfterNode(ctx, name, &st, time.Since(start), err)
			}
			return st, nil
		}

		st.Apply(up)

		scope := scopeFrom(ctx)
		if scope != nil && d.checkpointer != nil {
			// 本轮超时后仍要写入已完成节点的结果
			if err := d.checkpointer.Save(context.WithoutCancel(ctx), scope.threadID, st); err != nil {
				scope.checkpointErr = err
				if d.hook != nil {
					d.hook.AfterNode(ctx, name, &st, time.Since(start), err)
				}
				return st, fmt.Errorf("%w: node %s: %v", ErrCheckpoint, name, err)
			}
		}

		if d.hook != nil {
			d.hook.AfterNode(ctx, name, &st, time.Since(start), nil)
		}
		return st, nil
	}
}

// giveUpNode 为尚未执行的调用补上 "skipped" 结果，再给出固定的放弃答复。
func giveUpNode(_ context.Context, st ConversationState) (StateUpdate, error) {
	var msgs []*schema.Message
	if last := LastAssistant(st.Messages); last != nil {
		for _, tc := range last.ToolCalls {
			msgs = append(msgs, &schema.Message{
				Role:       schema.Tool,
				Content:    skippedToolMessage,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
			})
		}
	}
	msgs = append(msgs, schema.AssistantMessage(giveUpMessage, nil))
	return StateUpdate{Messages: msgs, RoutingSignal: SignalTerminate}, nil
}
