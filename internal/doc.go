// Package aqforecast implements an air-quality collection and forecasting
// service for a single PurpleAir sensor.
//
// # Architecture
//
// The service is structured into several key packages:
//   - api: PurpleAir client and the collector that persists its snapshots
//   - database: append-only reading stores (csv, badger, postgres)
//   - forecast: hourly resampling and ARIMA fitting with 95% bounds
//   - dashboard: panel assembly with per-panel failure isolation
//   - web: HTML dashboard, JSON and Prometheus endpoints
//   - grpc: ForecastService over a JSON codec, health service
//   - models: shared data structures and error kinds
//   - scheduler: periodic collection
//
// Key Features
//
//   - Historical Data:
//     Every refresh appends the sensor reading to the history store and
//     the API stats reading to the stats store. Duplicate timestamps keep
//     the most recently written row.
//
//   - Forecasting:
//     The history is resampled to an hourly grid with forward-fill and an
//     ARIMA(p,d,q) model is fitted by conditional maximum likelihood.
//     Fitted models are cached by data fingerprint.
//
// Example Usage
//
//	client := grpc.NewClient(conn)
//	fc, err := client.GetForecast(ctx, &grpc.ForecastRequest{
//	    Column: "pm2_5",
//	    Steps:  24,
//	})
//
// For more information about specific packages, see their respective
// documentation.
package aqforecast
