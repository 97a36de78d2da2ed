package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	app_svc "github.com/turtacn/taskgate/internal/application/service"
	"github.com/turtacn/taskgate/pkg/logger"
)

const (
	// TaskServiceName is the fully qualified gRPC service name.
	TaskServiceName = "taskgate.v1.TaskService"

	methodSubmitTask = "/" + TaskServiceName + "/SubmitTask"
	methodGetStats   = "/" + TaskServiceName + "/GetStats"
)

// TaskServiceServer mirrors the HTTP task endpoints. Requests carry the user id
// as a StringValue; responses are Structs with the same fields as the JSON bodies.
type TaskServiceServer interface {
	SubmitTask(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	GetStats(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

// TaskServiceDesc is registered on the server in place of generated stubs.
var TaskServiceDesc = grpc.ServiceDesc{
	ServiceName: TaskServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTask", Handler: submitTaskHandler},
		{MethodName: "GetStats", Handler: getStatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "taskgate/v1/task.proto",
}

func submitTaskHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskServiceServer).SubmitTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSubmitTask}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TaskServiceServer).SubmitTask(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskServiceServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStats}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TaskServiceServer).GetStats(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// TaskGRPCService implements TaskServiceServer on top of the application service.
type TaskGRPCService struct {
	app app_svc.TaskAppService
	log logger.Logger
}

func NewTaskGRPCService(app app_svc.TaskAppService, log logger.Logger) *TaskGRPCService {
	return &TaskGRPCService{app: app, log: log.WithComponent("TaskGRPCService")}
}

// SubmitTask admits and queues a task. Domain errors are translated by the error interceptor.
func (s *TaskGRPCService) SubmitTask(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	result, err := s.app.SubmitTask(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"message":   "Task queued successfully.",
		"task_id":   result.TaskID,
		"remaining": float64(result.Remaining),
	})
}

func (s *TaskGRPCService) GetStats(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	stats, err := s.app.GetStats(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"user_id":        stats.UserID,
		"tasksProcessed": float64(stats.TasksProcessed),
		"tasksInQueue":   float64(stats.TasksInQueue),
		"tasksFailed":    float64(stats.TasksFailed),
	})
}

// TaskServiceClient is the client side of TaskServiceDesc.
type TaskServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTaskServiceClient(cc grpc.ClientConnInterface) *TaskServiceClient {
	return &TaskServiceClient{cc: cc}
}

func (c *TaskServiceClient) SubmitTask(ctx context.Context, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodSubmitTask, wrapperspb.String(userID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TaskServiceClient) GetStats(ctx context.Context, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetStats, wrapperspb.String(userID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
