package dash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/Eyevinn/mp4ff/bits"
)

// Well-known DRM system IDs, in PSSH box form.
var (
	widevineSystemID  = mustSystemID("edef8ba979d64acea3c827dcd51d21ed")
	playReadySystemID = mustSystemID("9a04f07998404286ab92e65be0885f95")
	fairPlaySystemID  = mustSystemID("94ce86fb07ff4f43adb893d2fa968ca2")
	clearKeySystemID  = mustSystemID("1077efecc0b24d02ace33c1e52e2fb4b")
)

func mustSystemID(h string) [16]byte {
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != 16 {
		panic("bad system id: " + h)
	}
	var id [16]byte
	copy(id[:], b)
	return id
}

const psshBoxType = "pssh"

// psshInfo is the decoded header of a PSSH box.
type psshInfo struct {
	Version  uint8
	SystemID [16]byte
	KeyIDs   []string
	Data     []byte
}

// parsePssh decodes a single PSSH box. Only the first box in data is read.
func parsePssh(data []byte) (*psshInfo, error) {
	sr := bits.NewFixedSliceReader(data)
	size := sr.ReadUint32()
	boxType := string(sr.ReadBytes(4))
	if sr.AccError() != nil {
		return nil, fmt.Errorf("pssh: truncated box header")
	}
	if boxType != psshBoxType {
		return nil, fmt.Errorf("pssh: unexpected box type %q", boxType)
	}
	if int(size) > len(data) || size < 32 {
		return nil, fmt.Errorf("pssh: bad box size %d", size)
	}
	versionAndFlags := sr.ReadUint32()
	version := uint8(versionAndFlags >> 24)
	if version > 1 {
		return nil, fmt.Errorf("pssh: unsupported version %d", version)
	}
	info := &psshInfo{Version: version}
	copy(info.SystemID[:], sr.ReadBytes(16))
	if version == 1 {
		kidCount := sr.ReadUint32()
		if sr.AccError() != nil || int(kidCount)*16 > sr.NrRemainingBytes() {
			return nil, fmt.Errorf("pssh: truncated key id list")
		}
		for i := uint32(0); i < kidCount; i++ {
			info.KeyIDs = append(info.KeyIDs, hex.EncodeToString(sr.ReadBytes(16)))
		}
	}
	dataSize := sr.ReadUint32()
	if sr.AccError() != nil || int(dataSize) > sr.NrRemainingBytes() {
		return nil, fmt.Errorf("pssh: truncated payload")
	}
	info.Data = sr.ReadBytes(int(dataSize))
	if err := sr.AccError(); err != nil {
		return nil, fmt.Errorf("pssh: %w", err)
	}
	return info, nil
}

// buildPssh synthesizes a version-0 PSSH box wrapping payload for the
// given system.
func buildPssh(systemID [16]byte, payload []byte) []byte {
	size := 4 + 4 + 4 + 16 + 4 + len(payload)
	sw := bits.NewFixedSliceWriter(size)
	sw.WriteUint32(uint32(size))
	sw.WriteBytes([]byte(psshBoxType))
	sw.WriteUint32(0) // version 0, no flags
	sw.WriteBytes(systemID[:])
	sw.WriteUint32(uint32(len(payload)))
	sw.WriteBytes(payload)
	return sw.Bytes()
}

// PlayReady Object record types. Only the rights-management header, which
// carries the license-acquisition XML, is of interest here.
const proRecordRightsManagement = 0x0001

// playReadyRecord is one length-prefixed record inside a PlayReady Object.
type playReadyRecord struct {
	Type  uint16
	Value []byte
}

// parsePlayReadyObject walks the little-endian record list of a PlayReady
// Object (PRO).
func parsePlayReadyObject(pro []byte) ([]playReadyRecord, error) {
	if len(pro) < 6 {
		return nil, fmt.Errorf("playready object: too short")
	}
	total := binary.LittleEndian.Uint32(pro[0:4])
	if int(total) > len(pro) {
		return nil, fmt.Errorf("playready object: declared length %d exceeds payload", total)
	}
	count := binary.LittleEndian.Uint16(pro[4:6])
	records := make([]playReadyRecord, 0, count)
	pos := 6
	for i := 0; i < int(count); i++ {
		if pos+4 > len(pro) {
			return nil, fmt.Errorf("playready object: truncated record header")
		}
		recType := binary.LittleEndian.Uint16(pro[pos : pos+2])
		recLen := int(binary.LittleEndian.Uint16(pro[pos+2 : pos+4]))
		pos += 4
		if pos+recLen > len(pro) {
			return nil, fmt.Errorf("playready object: truncated record value")
		}
		records = append(records, playReadyRecord{Type: recType, Value: pro[pos : pos+recLen]})
		pos += recLen
	}
	return records, nil
}

// playReadyLicenseURL extracts the license-acquisition URL from the
// rights-management record of a PlayReady Object. The record value is a
// UTF-16LE XML fragment containing an LA_URL element.
func playReadyLicenseURL(pro []byte) string {
	records, err := parsePlayReadyObject(pro)
	if err != nil {
		return ""
	}
	for _, rec := range records {
		if rec.Type != proRecordRightsManagement {
			continue
		}
		xml := decodeUTF16LE(rec.Value)
		if url := elementText(xml, "LA_URL"); url != "" {
			return url
		}
	}
	return ""
}

func decodeUTF16LE(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u = append(u, binary.LittleEndian.Uint16(b[i:i+2]))
	}
	return string(utf16.Decode(u))
}

// elementText pulls the text content of the first <name>…</name> pair out
// of a small XML fragment without a full parse.
func elementText(xml, name string) string {
	open := "<" + name + ">"
	closing := "</" + name + ">"
	i := strings.Index(xml, open)
	if i < 0 {
		return ""
	}
	rest := xml[i+len(open):]
	j := strings.Index(rest, closing)
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}
