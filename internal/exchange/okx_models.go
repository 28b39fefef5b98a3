package exchange

type okxAck struct {
	OrdID       string `json:"ordId"`
	AlgoID      string `json:"algoId"`
	ClOrdID     string `json:"clOrdId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	SCode       string `json:"sCode"`
	SMsg        string `json:"sMsg"`
}

type okxInstrument struct {
	InstID string `json:"instId"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	CtMult string `json:"ctMult"`
	State  string `json:"state"`
}

type okxPosition struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	Upl     string `json:"upl"`
	UTime   string `json:"uTime"`
}

type okxOrder struct {
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	Tag        string `json:"tag"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	AccFillSz  string `json:"accFillSz"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	ReduceOnly string `json:"reduceOnly"`
	State      string `json:"state"`
	CTime      string `json:"cTime"`
}

type okxAlgoOrder struct {
	InstID      string `json:"instId"`
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	Sz          string `json:"sz"`
	Side        string `json:"side"`
	SlTriggerPx string `json:"slTriggerPx"`
	TpTriggerPx string `json:"tpTriggerPx"`
	ReduceOnly  string `json:"reduceOnly"`
	State       string `json:"state"`
	CTime       string `json:"cTime"`
}

type okxTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Ts     string `json:"ts"`
}

type okxFill struct {
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId"`
	Side    string `json:"side"`
	FillPx  string `json:"fillPx"`
	FillSz  string `json:"fillSz"`
	Fee     string `json:"fee"`
	FillPnl string `json:"fillPnl"`
	Ts      string `json:"ts"`
}
