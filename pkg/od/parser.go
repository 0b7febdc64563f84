package od

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Get index & subindex matching
var matchIdxRegExp = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
var matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})[sS]ub([0-9A-Fa-f]+)$`)
var matchNodeIdRegExp = regexp.MustCompile(`\+?\$NODEID\+?`)

// Parse an EDS file
// file can be either a path, []byte or an io.Reader
// nodeId is added to default values containing $NODEID
func Parse(file any, nodeId uint8) (*ObjectDictionary, error) {
	if reader, ok := file.(io.Reader); ok {
		raw, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		file = raw
	}
	edsFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	od := NewOD()

	for _, section := range edsFile.Sections() {
		name := section.Name()
		switch {
		case matchIdxRegExp.MatchString(name):
			index, _ := strconv.ParseUint(name, 16, 16)
			if err := od.addSection(section, uint16(index), nodeId); err != nil {
				return nil, err
			}
		case matchSubidxRegExp.MatchString(name):
			parts := matchSubidxRegExp.FindStringSubmatch(name)
			index, _ := strconv.ParseUint(parts[1], 16, 16)
			subindex, err := strconv.ParseUint(parts[2], 16, 8)
			if err != nil {
				return nil, err
			}
			entry := od.Index(uint16(index))
			if entry == nil {
				return nil, fmt.Errorf("[OD] index x%x not found for sub-entry %v", index, name)
			}
			variable, err := newVariableFromSection(section, uint8(subindex), nodeId)
			if err != nil {
				return nil, fmt.Errorf("[OD] x%x|x%x : %v", index, subindex, err)
			}
			if err := entry.AddMember(variable); err != nil {
				return nil, err
			}
		}
	}
	return od, nil
}

func (od *ObjectDictionary) addSection(section *ini.Section, index uint16, nodeId uint8) error {
	name := section.Key("ParameterName").String()
	objectType, err := strconv.ParseUint(section.Key("ObjectType").Value(), 0, 8)
	// If no object type, default to 7 (VAR)
	if err != nil {
		objectType = uint64(ObjectTypeVAR)
	}
	switch uint8(objectType) {
	case ObjectTypeVAR, ObjectTypeDOMAIN:
		variable, err := newVariableFromSection(section, 0, nodeId)
		if err != nil {
			return fmt.Errorf("[OD] x%x : %v", index, err)
		}
		od.addEntry(&Entry{Index: index, Name: name, ObjectType: uint8(objectType), variable: variable})
		return nil
	case ObjectTypeARRAY, ObjectTypeRECORD:
		_, err := od.AddRecord(index, name, uint8(objectType))
		return err
	default:
		return fmt.Errorf("[OD] unknown object type %v whilst parsing EDS", objectType)
	}
}

func newVariableFromSection(section *ini.Section, subindex uint8, nodeId uint8) (*Variable, error) {
	accessType, err := section.GetKey("AccessType")
	if err != nil {
		return nil, fmt.Errorf("failed to get 'AccessType'")
	}
	pdoMapping := false
	if key, err := section.GetKey("PDOMapping"); err == nil {
		pdoMapping, err = key.Bool()
		if err != nil {
			return nil, err
		}
	}
	dataType, err := strconv.ParseUint(section.Key("DataType").Value(), 0, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse 'DataType' : %v", err)
	}
	variable := &Variable{
		Name:      section.Key("ParameterName").String(),
		SubIndex:  subindex,
		DataType:  uint8(dataType),
		Attribute: EncodeAttribute(strings.ToLower(accessType.String()), pdoMapping, uint8(dataType)),
	}
	defaultValue := section.Key("DefaultValue").String()
	offset := uint8(0)
	// $NODEID is removed and node id added to the value
	if strings.Contains(defaultValue, "$NODEID") {
		defaultValue = matchNodeIdRegExp.ReplaceAllString(defaultValue, "")
		offset = nodeId
	}
	variable.valueDefault, err = EncodeFromString(defaultValue, variable.DataType, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to parse 'DefaultValue' %q : %v", defaultValue, err)
	}
	variable.value = append([]byte(nil), variable.valueDefault...)
	return variable, nil
}
