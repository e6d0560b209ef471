package bilibili

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// mixinKeyEncTab WBI混淆表
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// wbiStripChars 签名前从参数值中删除的字符
const wbiStripChars = "!'()*"

// WBIKeys img_key 与 sub_key
type WBIKeys struct {
	ImgKey string
	SubKey string
}

// Valid 两个key都存在
func (k WBIKeys) Valid() bool {
	return k.ImgKey != "" && k.SubKey != ""
}

// WBIKeysFromURLs 从 wbi_img 的两个图片地址中提取key (文件名去掉扩展名)
func WBIKeysFromURLs(imgURL, subURL string) WBIKeys {
	return WBIKeys{ImgKey: keyFromURL(imgURL), SubKey: keyFromURL(subURL)}
}

func keyFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	base := path.Base(raw)
	return strings.TrimSuffix(base, path.Ext(base))
}

// MixinKey 按混淆表重排 img_key+sub_key,取前32位
func MixinKey(keys WBIKeys) string {
	orig := keys.ImgKey + keys.SubKey
	var b strings.Builder
	for _, i := range mixinKeyEncTab {
		if i < len(orig) {
			b.WriteByte(orig[i])
		}
	}
	s := b.String()
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}

// SignParams 为请求参数添加 wts 与 w_rid
// 原参数不会被修改
func SignParams(params map[string]string, keys WBIKeys, now time.Time) url.Values {
	values := make(url.Values, len(params)+2)
	for k, v := range params {
		values.Set(k, stripWBIChars(v))
	}
	values.Set("wts", strconv.FormatInt(now.Unix(), 10))

	// Encode 按key排序
	query := values.Encode()
	sum := md5.Sum([]byte(query + MixinKey(keys)))
	values.Set("w_rid", hex.EncodeToString(sum[:]))
	return values
}

func stripWBIChars(v string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(wbiStripChars, r) {
			return -1
		}
		return r
	}, v)
}

// wbiKeyStore 并发安全的WBI key缓存
type wbiKeyStore struct {
	mu   sync.RWMutex
	keys WBIKeys
}

func (s *wbiKeyStore) get() WBIKeys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

func (s *wbiKeyStore) set(keys WBIKeys) {
	if !keys.Valid() {
		return
	}
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
}
