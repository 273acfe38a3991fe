package server

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/aqforecast/internal/dashboard"
	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

const serviceName = "aqforecast.v1.ForecastService"

type CurrentRequest struct{}

// RangeRequest selects rows with start <= dt <= end. A zero bound is open.
type RangeRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type HistoryRequest struct {
	RangeRequest
	Column string `json:"column,omitempty"`
}

type HistoryResponse struct {
	Column string                  `json:"column"`
	Points []models.TimeSeriesData `json:"points"`
}

// ForecastRequest asks for a forecast. Zero values fall back to the
// service defaults.
type ForecastRequest struct {
	Column string        `json:"column,omitempty"`
	Steps  int           `json:"steps,omitempty"`
	Order  *models.Order `json:"order,omitempty"`
}

type StatsHistoryRequest struct {
	RangeRequest
}

type DashboardRequest struct{}

// ForecastServiceServer is the server API for the forecast service.
type ForecastServiceServer interface {
	GetCurrent(context.Context, *CurrentRequest) (*models.Snapshot, error)
	GetHistory(context.Context, *HistoryRequest) (*HistoryResponse, error)
	GetForecast(context.Context, *ForecastRequest) (*models.Forecast, error)
	GetStatsHistory(context.Context, *StatsHistoryRequest) (*models.Series, error)
	GetDashboard(context.Context, *DashboardRequest) (*dashboard.View, error)
}

// methodHandler has the shape of grpc.MethodDesc.Handler.
type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

// unaryHandler adapts a typed service method to a grpc.MethodDesc handler.
func unaryHandler[Req, Resp any](method string, call func(ForecastServiceServer, context.Context, *Req) (*Resp, error)) methodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ForecastServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ForecastServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ForecastServiceDesc describes the service for grpc.Server.RegisterService.
var ForecastServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ForecastServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCurrent", Handler: unaryHandler("GetCurrent", ForecastServiceServer.GetCurrent)},
		{MethodName: "GetHistory", Handler: unaryHandler("GetHistory", ForecastServiceServer.GetHistory)},
		{MethodName: "GetForecast", Handler: unaryHandler("GetForecast", ForecastServiceServer.GetForecast)},
		{MethodName: "GetStatsHistory", Handler: unaryHandler("GetStatsHistory", ForecastServiceServer.GetStatsHistory)},
		{MethodName: "GetDashboard", Handler: unaryHandler("GetDashboard", ForecastServiceServer.GetDashboard)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aqforecast/v1/forecast",
}

// RegisterForecastServiceServer registers srv on s.
func RegisterForecastServiceServer(s grpc.ServiceRegistrar, srv ForecastServiceServer) {
	s.RegisterService(&ForecastServiceDesc, srv)
}

// Client calls ForecastService over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetCurrent(ctx context.Context, in *CurrentRequest, opts ...grpc.CallOption) (*models.Snapshot, error) {
	return invoke[models.Snapshot](ctx, c, "GetCurrent", in, opts)
}

func (c *Client) GetHistory(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c, "GetHistory", in, opts)
}

func (c *Client) GetForecast(ctx context.Context, in *ForecastRequest, opts ...grpc.CallOption) (*models.Forecast, error) {
	return invoke[models.Forecast](ctx, c, "GetForecast", in, opts)
}

func (c *Client) GetStatsHistory(ctx context.Context, in *StatsHistoryRequest, opts ...grpc.CallOption) (*models.Series, error) {
	return invoke[models.Series](ctx, c, "GetStatsHistory", in, opts)
}

func (c *Client) GetDashboard(ctx context.Context, in *DashboardRequest, opts ...grpc.CallOption) (*dashboard.View, error) {
	return invoke[dashboard.View](ctx, c, "GetDashboard", in, opts)
}
