// Package rpc wires the worker-executor and shard-manager gRPC surfaces
// described in spec.md §6 onto google.golang.org/grpc. No protoc toolchain
// is available in this environment, so the request/response messages
// (messages.go) are plain Go structs serialized by pkg/rpc/jsoncodec
// instead of .pb.go-generated types, and the grpc.ServiceDesc/MethodDesc/
// StreamDesc values below are hand-authored in the same shape
// protoc-gen-go-grpc would emit. This is the Go counterpart of the
// teacher's api/proto-generated WarrenAPI service plus pkg/api/server.go's
// registration code, adapted to a codec that needs no code generation step.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// WorkerServiceServer is implemented by WorkerServer (server.go) and
// GatewayWorkerServer (gateway.go), and registered against a *grpc.Server
// via RegisterWorkerServiceServer.
type WorkerServiceServer interface {
	CreateWorker(context.Context, *CreateWorkerRequest) (*CreateWorkerResponse, error)
	Invoke(context.Context, *InvokeRequest) (*InvokeResponse, error)
	InvokeAndAwait(context.Context, *InvokeRequest) (*InvokeAndAwaitResponse, error)
	Get(context.Context, *GetWorkerRequest) (*GetWorkerResponse, error)
	Interrupt(context.Context, *InterruptRequest) (*InterruptResponse, error)
	Update(context.Context, *UpdateWorkerRequest) (*UpdateWorkerResponse, error)
	Delete(context.Context, *DeleteWorkerRequest) (*DeleteWorkerResponse, error)
	SimulatedCrash(context.Context, *SimulatedCrashRequest) (*SimulatedCrashResponse, error)
	InvocationKey(context.Context, *InvocationKeyRequest) (*InvocationKeyResponse, error)
	Connect(*ConnectRequest, WorkerService_ConnectServer) error
}

// WorkerService_ConnectServer is the server-side handle for the streaming
// Connect RPC, the hand-written counterpart of a protoc-generated
// grpc.ServerStream wrapper.
type WorkerService_ConnectServer interface {
	Send(*ConnectEvent) error
	grpc.ServerStream
}

type workerServiceConnectServer struct {
	grpc.ServerStream
}

func (s *workerServiceConnectServer) Send(ev *ConnectEvent) error {
	return s.ServerStream.SendMsg(ev)
}

const (
	workerServiceName = "golem.WorkerService"

	WorkerService_CreateWorker_FullMethodName     = "/" + workerServiceName + "/CreateWorker"
	WorkerService_Invoke_FullMethodName           = "/" + workerServiceName + "/Invoke"
	WorkerService_InvokeAndAwait_FullMethodName   = "/" + workerServiceName + "/InvokeAndAwait"
	WorkerService_Get_FullMethodName              = "/" + workerServiceName + "/Get"
	WorkerService_Interrupt_FullMethodName        = "/" + workerServiceName + "/Interrupt"
	WorkerService_Update_FullMethodName           = "/" + workerServiceName + "/Update"
	WorkerService_Delete_FullMethodName           = "/" + workerServiceName + "/Delete"
	WorkerService_SimulatedCrash_FullMethodName   = "/" + workerServiceName + "/SimulatedCrash"
	WorkerService_InvocationKey_FullMethodName    = "/" + workerServiceName + "/InvocationKey"
	WorkerService_Connect_FullMethodName          = "/" + workerServiceName + "/Connect"
)

func _WorkerService_CreateWorker_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateWorkerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).CreateWorker(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_CreateWorker_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).CreateWorker(ctx, req.(*CreateWorkerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_Invoke_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InvokeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_Invoke_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).Invoke(ctx, req.(*InvokeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_InvokeAndAwait_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InvokeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).InvokeAndAwait(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_InvokeAndAwait_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).InvokeAndAwait(ctx, req.(*InvokeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_Get_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetWorkerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_Get_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).Get(ctx, req.(*GetWorkerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_Interrupt_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InterruptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).Interrupt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_Interrupt_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).Interrupt(ctx, req.(*InterruptRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_Update_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateWorkerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).Update(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_Update_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).Update(ctx, req.(*UpdateWorkerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_Delete_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteWorkerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_Delete_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).Delete(ctx, req.(*DeleteWorkerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_SimulatedCrash_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SimulatedCrashRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).SimulatedCrash(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_SimulatedCrash_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).SimulatedCrash(ctx, req.(*SimulatedCrashRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_InvocationKey_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InvocationKeyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServiceServer).InvocationKey(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WorkerService_InvocationKey_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServiceServer).InvocationKey(ctx, req.(*InvocationKeyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerService_Connect_Handler(srv any, stream grpc.ServerStream) error {
	in := new(ConnectRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WorkerServiceServer).Connect(in, &workerServiceConnectServer{stream})
}

// WorkerServiceDesc is the hand-written counterpart of a protoc-generated
// _WorkerService_serviceDesc.
var WorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: workerServiceName,
	HandlerType: (*WorkerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateWorker", Handler: _WorkerService_CreateWorker_Handler},
		{MethodName: "Invoke", Handler: _WorkerService_Invoke_Handler},
		{MethodName: "InvokeAndAwait", Handler: _WorkerService_InvokeAndAwait_Handler},
		{MethodName: "Get", Handler: _WorkerService_Get_Handler},
		{MethodName: "Interrupt", Handler: _WorkerService_Interrupt_Handler},
		{MethodName: "Update", Handler: _WorkerService_Update_Handler},
		{MethodName: "Delete", Handler: _WorkerService_Delete_Handler},
		{MethodName: "SimulatedCrash", Handler: _WorkerService_SimulatedCrash_Handler},
		{MethodName: "InvocationKey", Handler: _WorkerService_InvocationKey_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Connect", Handler: _WorkerService_Connect_Handler, ServerStreams: true},
	},
	Metadata: "golem/worker_service.proto",
}

func RegisterWorkerServiceServer(s grpc.ServiceRegistrar, srv WorkerServiceServer) {
	s.RegisterService(&WorkerServiceDesc, srv)
}

// ShardManagerServiceServer is implemented by ShardManagerServer
// (server.go).
type ShardManagerServiceServer interface {
	RegisterPod(context.Context, *RegisterPodRequest) (*RegisterPodResponse, error)
	UnregisterPod(context.Context, *UnregisterPodRequest) (*UnregisterPodResponse, error)
	GetRoutingTable(context.Context, *GetRoutingTableRequest) (*GetRoutingTableResponse, error)
}

const (
	shardManagerServiceName = "golem.ShardManagerService"

	ShardManagerService_RegisterPod_FullMethodName      = "/" + shardManagerServiceName + "/RegisterPod"
	ShardManagerService_UnregisterPod_FullMethodName    = "/" + shardManagerServiceName + "/UnregisterPod"
	ShardManagerService_GetRoutingTable_FullMethodName  = "/" + shardManagerServiceName + "/GetRoutingTable"
)

func _ShardManagerService_RegisterPod_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterPodRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardManagerServiceServer).RegisterPod(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ShardManagerService_RegisterPod_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ShardManagerServiceServer).RegisterPod(ctx, req.(*RegisterPodRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ShardManagerService_UnregisterPod_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UnregisterPodRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardManagerServiceServer).UnregisterPod(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ShardManagerService_UnregisterPod_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ShardManagerServiceServer).UnregisterPod(ctx, req.(*UnregisterPodRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ShardManagerService_GetRoutingTable_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRoutingTableRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardManagerServiceServer).GetRoutingTable(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ShardManagerService_GetRoutingTable_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ShardManagerServiceServer).GetRoutingTable(ctx, req.(*GetRoutingTableRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ShardManagerServiceDesc = grpc.ServiceDesc{
	ServiceName: shardManagerServiceName,
	HandlerType: (*ShardManagerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterPod", Handler: _ShardManagerService_RegisterPod_Handler},
		{MethodName: "UnregisterPod", Handler: _ShardManagerService_UnregisterPod_Handler},
		{MethodName: "GetRoutingTable", Handler: _ShardManagerService_GetRoutingTable_Handler},
	},
	Metadata: "golem/shard_manager_service.proto",
}

func RegisterShardManagerServiceServer(s grpc.ServiceRegistrar, srv ShardManagerServiceServer) {
	s.RegisterService(&ShardManagerServiceDesc, srv)
}
