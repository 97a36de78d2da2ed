package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
)

// InterceptorChain 拦截器链
type InterceptorChain struct {
	log logger.Logger
}

// NewInterceptorChain 创建拦截器链
func NewInterceptorChain(log logger.Logger) *InterceptorChain {
	return &InterceptorChain{log: log.WithComponent("grpc")}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "Internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()

		var userAgent string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if agents := md.Get("user-agent"); len(agents) > 0 {
				userAgent = agents[0]
			}
		}

		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			statusCode = status.Code(err)
		}
		fields := []logger.Field{
			logger.String("method", info.FullMethod),
			logger.String("user_agent", userAgent),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		}
		if statusCode == grpcCodes.Internal || statusCode == grpcCodes.Unavailable {
			ic.log.Warn(ctx, "gRPC request failed", fields...)
		} else {
			ic.log.Debug(ctx, "gRPC request completed", fields...)
		}
		return resp, err
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok && !isAppError(err) {
			return resp, err
		}
		return resp, convertDomainErrorToGRPC(err)
	}
}

func isAppError(err error) bool {
	_, ok := errors.AsAppError(err)
	return ok
}

// convertDomainErrorToGRPC 将领域错误转换为 gRPC 错误
func convertDomainErrorToGRPC(err error) error {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		return status.Error(grpcCodes.Internal, "Internal server error")
	}

	switch {
	case errors.IsValidation(err):
		return status.Error(grpcCodes.InvalidArgument, appErr.Error())
	case errors.IsRateLimited(err):
		st := status.New(grpcCodes.ResourceExhausted, appErr.Error())
		if ms, ok := appErr.Metadata()["retry_after_ms"].(int64); ok {
			if detailed, derr := st.WithDetails(&errdetails.RetryInfo{
				RetryDelay: durationpb.New(time.Duration(ms) * time.Millisecond),
			}); derr == nil {
				st = detailed
			}
		}
		return st.Err()
	case errors.IsStoreUnavailable(err):
		return status.Error(grpcCodes.Unavailable, "Internal server error")
	}

	switch appErr.HTTPStatus() {
	case 401:
		return status.Error(grpcCodes.Unauthenticated, appErr.Error())
	case 409:
		return status.Error(grpcCodes.AlreadyExists, appErr.Error())
	default:
		return status.Error(grpcCodes.Internal, "Internal server error")
	}
}

// RetryDelay extracts the RetryInfo delay from a ResourceExhausted status.
func RetryDelay(err error) (time.Duration, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok {
			return info.GetRetryDelay().AsDuration(), true
		}
	}
	return 0, false
}

// ChainUnaryInterceptors 链式调用所有拦截器
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(), // 1. 恢复 panic
		ic.UnaryLoggingInterceptor(),  // 2. 日志
		ic.UnaryErrorInterceptor(),    // 3. 错误转换
	)
}
