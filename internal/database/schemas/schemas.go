// Package schemas embeds the DDL for each of the service's seven databases.
package schemas

import _ "embed"

//go:embed dimensions.sql
var Dimensions string

//go:embed snapshots.sql
var Snapshots string

//go:embed candles.sql
var Candles string

//go:embed orderbook.sql
var Orderbook string

//go:embed features.sql
var Features string

//go:embed watchlist.sql
var Watchlist string

//go:embed ops.sql
var Ops string
