package bilibili

import (
	"testing"
	"time"
)

var testKeys = WBIKeys{
	ImgKey: "7cd084941338484aae1ad9425b84077c",
	SubKey: "4932caff0ff746eab6f01bf08b70ac45",
}

func TestMixinKey(t *testing.T) {
	if got := MixinKey(testKeys); got != "ea1db124af3c7062474693fa704f4ff8" {
		t.Errorf("mixin key错误: %s", got)
	}
}

func TestSignParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		wts     int64
		wantRID string
	}{
		{
			name:    "文档示例",
			params:  map[string]string{"foo": "114", "bar": "514", "zab": "1919810"},
			wts:     1702204169,
			wantRID: "8f6f2b5b3d485fe1886cec6a0be8c5d4",
		},
		{
			name:    "中文关键词并删除特殊字符",
			params:  map[string]string{"keyword": "编程 (副业)!", "page": "1", "search_type": "video"},
			wts:     1700000000,
			wantRID: "aa301479ac790a9d3806a4acfd18ffe9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := SignParams(tt.params, testKeys, time.Unix(tt.wts, 0))
			if got := values.Get("w_rid"); got != tt.wantRID {
				t.Errorf("期望 w_rid=%s, 实际 %s", tt.wantRID, got)
			}
			if values.Get("wts") == "" {
				t.Error("缺少wts参数")
			}
		})
	}
}

func TestSignParams_DoesNotMutateInput(t *testing.T) {
	params := map[string]string{"keyword": "a(b)"}
	SignParams(params, testKeys, time.Unix(1, 0))
	if params["keyword"] != "a(b)" {
		t.Errorf("原参数被修改: %v", params)
	}
	if _, ok := params["wts"]; ok {
		t.Error("原参数中不应出现wts")
	}
}

func TestWBIKeysFromURLs(t *testing.T) {
	keys := WBIKeysFromURLs(
		"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png",
		"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png",
	)
	if keys != testKeys {
		t.Errorf("提取key错误: %+v", keys)
	}
	if (WBIKeys{ImgKey: "a"}).Valid() {
		t.Error("缺少sub_key时不应有效")
	}
}
